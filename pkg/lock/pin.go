package lock

import (
	"context"
	"strings"

	"github.com/dofigen/dofigen/pkg/errdefs"
	"github.com/dofigen/dofigen/pkg/model"
)

// Pin returns a copy of d where every image source carries a digest taken
// from the lock file. Images missing from the lock, or every image when
// update is set, are looked up with resolver and recorded in f. A nil
// resolver means offline: a missing image is an error. Tags that d no longer
// uses are dropped from f.
func Pin(ctx context.Context, d *model.Dofigen, f *File, resolver Resolver, update bool) (*model.Dofigen, error) {
	p := &pinner{
		ctx:      ctx,
		file:     f,
		resolver: resolver,
		update:   update,
		resolved: make(map[model.LockKey]DockerTag),
	}

	out := d.Clone()
	for name, b := range out.Builders {
		if err := p.stage(&b); err != nil {
			return nil, err
		}
		out.Builders[name] = b
	}
	if err := p.stage(&out.Stage); err != nil {
		return nil, err
	}

	f.Retain(p.used)
	return out, nil
}

type pinner struct {
	ctx      context.Context
	file     *File
	resolver Resolver
	update   bool
	resolved map[model.LockKey]DockerTag
	used     []model.LockKey
}

func (p *pinner) stage(s *model.Stage) error {
	if err := p.from(&s.From); err != nil {
		return err
	}
	for _, c := range s.Copy {
		if cp, ok := c.(*model.Copy); ok {
			if err := p.from(&cp.From); err != nil {
				return err
			}
		}
	}
	if s.Root != nil {
		if err := p.run(s.Root); err != nil {
			return err
		}
	}
	return p.run(&s.Run)
}

func (p *pinner) run(r *model.Run) error {
	for i := range r.Cache {
		if err := p.from(&r.Cache[i].From); err != nil {
			return err
		}
	}
	for i := range r.Bind {
		if err := p.from(&r.Bind[i].From); err != nil {
			return err
		}
	}
	return nil
}

func (p *pinner) from(f *model.FromContext) error {
	if f.Kind != model.FromKindImage || f.Image.Digest != "" || strings.Contains(f.Image.String(), "$") {
		return nil
	}
	key, err := f.Image.LockKey()
	if err != nil {
		return errdefs.Customf(err, "failed to pin image %s", f.Image)
	}
	tag, err := p.tag(key)
	if err != nil {
		return err
	}
	f.Image.Digest = tag.Digest
	return nil
}

func (p *pinner) tag(key model.LockKey) (DockerTag, error) {
	if tag, ok := p.resolved[key]; ok {
		return tag, nil
	}
	tag, ok := p.file.Tag(key)
	if !ok || p.update {
		if p.resolver == nil {
			if ok {
				return p.keep(key, tag), nil
			}
			return DockerTag{}, errdefs.Customf(nil, "image %s is not locked and cannot be resolved offline", reference(key))
		}
		var err error
		tag, err = p.resolver.Resolve(p.ctx, key)
		if err != nil {
			return DockerTag{}, err
		}
		p.file.SetTag(key, tag)
	}
	return p.keep(key, tag), nil
}

func (p *pinner) keep(key model.LockKey, tag DockerTag) DockerTag {
	p.resolved[key] = tag
	p.used = append(p.used, key)
	return tag
}
