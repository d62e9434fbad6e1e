package model

// FromKind discriminates the FromContext variants.
type FromKind int

const (
	// FromKindContext starts from an external build context, or from
	// scratch when no context name is set. It is the zero value.
	FromKindContext FromKind = iota

	// FromKindImage starts from a container image.
	FromKindImage

	// FromKindBuilder starts from another stage of the same build.
	FromKindBuilder
)

// FromContext says where a stage filesystem, a copy or a mount comes from.
type FromContext struct {
	Kind    FromKind
	Image   ImageName
	Builder string
	Context string
}

// FromImage returns an image source.
func FromImage(img ImageName) FromContext {
	return FromContext{Kind: FromKindImage, Image: img}
}

// FromBuilder returns a builder source.
func FromBuilder(name string) FromContext {
	return FromContext{Kind: FromKindBuilder, Builder: name}
}

// FromExternal returns an external build context source. An empty name
// means scratch.
func FromExternal(name string) FromContext {
	return FromContext{Kind: FromKindContext, Context: name}
}

// IsScratch reports whether the source is the empty filesystem.
func (f FromContext) IsScratch() bool {
	return f.Kind == FromKindContext && f.Context == ""
}

// IsZero reports whether nothing was set. It is equivalent to IsScratch.
func (f FromContext) IsZero() bool {
	return f.IsScratch()
}

// String renders the source as it appears in FROM or --from.
func (f FromContext) String() string {
	switch f.Kind {
	case FromKindImage:
		return f.Image.String()
	case FromKindBuilder:
		return f.Builder
	default:
		if f.Context == "" {
			return "scratch"
		}
		return f.Context
	}
}
