package loaders

import "github.com/spaghettifunk/anima-resources/engine/resources"

// RegisterDefaults registers every default parser with an LRU cache of the
// given capacity, and the mipmap system. Types already registered are kept.
// The returned mipmap system is nil if one was registered before.
func RegisterDefaults(m *resources.Manager, capacity int) *MipmapSystem {
	resources.Register[Text](m, capacity, TextLoader{})
	resources.Register[Bytecode](m, capacity, BytecodeLoader{})
	resources.Register[*Material](m, capacity, MaterialLoader{ResolveMaps: true})
	resources.Register[Image](m, capacity, TextureLoader{})
	resources.Register[*BitmapFont](m, capacity, BitmapFontLoader{})
	resources.Register[FontCollection](m, capacity, FontCollectionLoader{})
	resources.Register[*SystemFont](m, capacity, SystemFontLoader{})

	mips := NewMipmapSystem()
	if !resources.RegisterExternSystem[Image, MipChain, MipmapOptions](m, mips) {
		return nil
	}
	return mips
}
