package description

import (
	"context"

	"github.com/dofigen/dofigen/pkg/model"
	"github.com/dofigen/dofigen/pkg/patch"
	"github.com/dofigen/dofigen/pkg/resource"
)

// StdinName names a description read from standard input. Its extend
// references resolve against the working directory.
const StdinName = "<stdin>"

// resolver decodes documents and expands their extend references through a
// single load context.
type resolver struct {
	lc   *resource.LoadContext
	opts Options
}

// ParseResource loads the description at r, resolves its extensions and
// returns the validated result.
func ParseResource(ctx context.Context, lc *resource.LoadContext, r resource.Resource, opts Options) (*model.Dofigen, error) {
	rs := &resolver{lc: lc, opts: opts}

	var chain patch.Chain[model.Dofigen]
	err := lc.Load(ctx, r, func(text string) error {
		c, err := rs.dofigenChain(ctx, r, text)
		chain = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return finish(chain)
}

// ParseString resolves a description given as text. Relative extend
// references resolve against the working directory.
func ParseString(ctx context.Context, lc *resource.LoadContext, text string, opts Options) (*model.Dofigen, error) {
	rs := &resolver{lc: lc, opts: opts}
	chain, err := rs.dofigenChain(ctx, resource.File(StdinName), text)
	if err != nil {
		return nil, err
	}
	return finish(chain)
}

// Resolve merges the parents of ext left to right and applies its own patch
// last. With no parents the result is the patch applied to the zero value.
func Resolve(ctx context.Context, lc *resource.LoadContext, ext Extend[*DofigenPatch], opts Options) (*model.Dofigen, error) {
	rs := &resolver{lc: lc, opts: opts}
	chain, err := rs.resolveDofigen(ctx, ext)
	if err != nil {
		return nil, err
	}
	return finish(chain)
}

// Decode parses a single document without resolving its extensions.
func Decode(ctx context.Context, text string, r resource.Resource, opts Options) (Extend[*DofigenPatch], error) {
	n, err := toNode(ctx, text, r.String(), FormatOf(r.Ext()))
	if err != nil {
		return Extend[*DofigenPatch]{}, err
	}
	d := &decoder{opts: opts, name: r.String(), parent: r}
	return d.decodeDofigen(n)
}

func finish(chain patch.Chain[model.Dofigen]) (*model.Dofigen, error) {
	d := patch.Merge(model.Dofigen{}, patch.Patcher[model.Dofigen](chain))
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (rs *resolver) dofigenChain(ctx context.Context, r resource.Resource, text string) (patch.Chain[model.Dofigen], error) {
	ext, err := Decode(ctx, text, r, rs.opts)
	if err != nil {
		return nil, err
	}
	return rs.resolveDofigen(ctx, ext)
}

func (rs *resolver) resolveDofigen(ctx context.Context, ext Extend[*DofigenPatch]) (patch.Chain[model.Dofigen], error) {
	var chain patch.Chain[model.Dofigen]
	for _, parent := range ext.Extend {
		err := rs.lc.Load(ctx, parent, func(text string) error {
			c, err := rs.dofigenChain(ctx, parent, text)
			chain = append(chain, c...)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	if err := rs.resolveBuilders(ctx, ext.Patch.Builders); err != nil {
		return nil, err
	}
	return append(chain, ext.Patch), nil
}

func (rs *resolver) resolveBuilders(ctx context.Context, builders patch.Map[model.Stage]) error {
	for _, e := range builders.Entries {
		b, ok := e.Patch.(*BuilderPatch)
		if !ok || len(b.Extend) == 0 {
			continue
		}
		chain, err := rs.resolveStage(ctx, Extend[*StagePatch]{Extend: b.Extend, Patch: b.Body})
		if err != nil {
			return err
		}
		b.resolved = chain
	}
	return nil
}

func (rs *resolver) resolveStage(ctx context.Context, ext Extend[*StagePatch]) (patch.Chain[model.Stage], error) {
	var chain patch.Chain[model.Stage]
	for _, parent := range ext.Extend {
		err := rs.lc.Load(ctx, parent, func(text string) error {
			n, err := toNode(ctx, text, parent.String(), FormatOf(parent.Ext()))
			if err != nil {
				return err
			}
			d := &decoder{opts: rs.opts, name: parent.String(), parent: parent}
			pext, err := d.decodeStage(n)
			if err != nil {
				return err
			}
			c, err := rs.resolveStage(ctx, pext)
			chain = append(chain, c...)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return append(chain, ext.Patch), nil
}
