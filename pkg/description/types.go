package description

import (
	"github.com/dofigen/dofigen/pkg/model"
	"github.com/dofigen/dofigen/pkg/patch"
	"github.com/dofigen/dofigen/pkg/resource"
)

// Extend pairs the resources a document extends with its own patch body.
type Extend[P any] struct {
	Extend []resource.Resource
	Patch  P
}

// DofigenPatch is a partial description.
type DofigenPatch struct {
	Stage       StagePatch
	Builders    patch.Map[model.Stage]
	GlobalArg   patch.Map[string]
	Context     patch.List[string]
	Ignore      patch.List[string]
	Entrypoint  patch.List[string]
	Cmd         patch.List[string]
	Volume      patch.List[string]
	Expose      patch.List[model.Port]
	Healthcheck patch.Nested[model.Healthcheck]
}

// Apply implements patch.Patcher.
func (p *DofigenPatch) Apply(base *model.Dofigen) {
	p.Stage.Apply(&base.Stage)
	p.Builders.Apply(&base.Builders)
	p.GlobalArg.Apply(&base.GlobalArg)
	p.Context.Apply(&base.Context)
	p.Ignore.Apply(&base.Ignore)
	p.Entrypoint.Apply(&base.Entrypoint)
	p.Cmd.Apply(&base.Cmd)
	p.Volume.Apply(&base.Volume)
	p.Expose.Apply(&base.Expose)
	p.Healthcheck.Apply(&base.Healthcheck)
}

// BuilderPatch is the patch of one builder entry. A builder may extend
// other stage documents; the resolver then replaces the body by the
// resolved chain.
type BuilderPatch struct {
	Extend   []resource.Resource
	Body     *StagePatch
	resolved patch.Chain[model.Stage]
}

// Apply implements patch.Patcher.
func (b *BuilderPatch) Apply(base *model.Stage) {
	if b.resolved != nil {
		b.resolved.Apply(base)
		return
	}
	b.Body.Apply(base)
}

// StagePatch is a partial stage.
type StagePatch struct {
	From    FromPatch
	Label   patch.Map[string]
	User    patch.Nested[model.User]
	Workdir patch.Opt[string]
	Arg     patch.Map[string]
	Env     patch.Map[string]
	Copy    patch.List[model.CopyResource]
	Root    patch.Nested[model.Run]
	Run     RunPatch
}

// Apply implements patch.Patcher.
func (p *StagePatch) Apply(base *model.Stage) {
	p.From.Apply(&base.From)
	p.Label.Apply(&base.Label)
	p.User.Apply(&base.User)
	p.Workdir.Apply(&base.Workdir)
	p.Arg.Apply(&base.Arg)
	p.Env.Apply(&base.Env)
	p.Copy.Apply(&base.Copy)
	p.Root.Apply(&base.Root)
	p.Run.Apply(&base.Run)
}

// FromPatch replaces the source of a stage, copy or mount. When both base
// and patch are images the image fields merge one by one.
type FromPatch struct {
	State   patch.State
	Kind    model.FromKind
	Image   ImagePatch
	Builder string
	Context string
}

// Apply implements patch.Patcher.
func (p FromPatch) Apply(base *model.FromContext) {
	switch p.State {
	case patch.Null:
		*base = model.FromContext{}
	case patch.Present:
		switch p.Kind {
		case model.FromKindImage:
			var img model.ImageName
			if base.Kind == model.FromKindImage {
				img = base.Image
			}
			p.Image.Apply(&img)
			*base = model.FromImage(img)
		case model.FromKindBuilder:
			*base = model.FromBuilder(p.Builder)
		default:
			*base = model.FromExternal(p.Context)
		}
	}
}

// ImagePatch is a partial image reference.
type ImagePatch struct {
	Host   patch.Opt[string]
	Port   patch.Opt[int]
	Path   patch.Opt[string]
	Tag    patch.Opt[string]
	Digest patch.Opt[string]
}

// fullImagePatch sets every field of img, including empty ones.
func fullImagePatch(img model.ImageName) ImagePatch {
	return ImagePatch{
		Host:   patch.Set(img.Host),
		Port:   patch.Set(img.Port),
		Path:   patch.Set(img.Path),
		Tag:    patch.Set(img.Tag),
		Digest: patch.Set(img.Digest),
	}
}

// Apply implements patch.Patcher.
func (p ImagePatch) Apply(base *model.ImageName) {
	p.Host.Apply(&base.Host)
	p.Port.Apply(&base.Port)
	p.Path.Apply(&base.Path)
	p.Tag.Apply(&base.Tag)
	p.Digest.Apply(&base.Digest)
}

// UserPatch is a partial user.
type UserPatch struct {
	User  patch.Opt[string]
	Group patch.Opt[string]
}

// Apply implements patch.Patcher.
func (p UserPatch) Apply(base *model.User) {
	p.User.Apply(&base.User)
	p.Group.Apply(&base.Group)
}

// RunPatch is a partial run.
type RunPatch struct {
	Run   patch.List[string]
	Shell patch.List[string]
	Cache patch.List[model.Cache]
	Bind  patch.List[model.Bind]
}

// Apply implements patch.Patcher.
func (p RunPatch) Apply(base *model.Run) {
	p.Run.Apply(&base.Run)
	p.Shell.Apply(&base.Shell)
	p.Cache.Apply(&base.Cache)
	p.Bind.Apply(&base.Bind)
}

// CachePatch is a partial cache mount.
type CachePatch struct {
	ID       patch.Opt[string]
	Target   patch.Opt[string]
	From     FromPatch
	Source   patch.Opt[string]
	Chmod    patch.Opt[string]
	Chown    patch.Nested[model.User]
	Sharing  patch.Opt[model.Sharing]
	ReadOnly patch.Opt[bool]
}

// Apply implements patch.Patcher.
func (p CachePatch) Apply(base *model.Cache) {
	p.ID.Apply(&base.ID)
	p.Target.Apply(&base.Target)
	p.From.Apply(&base.From)
	p.Source.Apply(&base.Source)
	p.Chmod.Apply(&base.Chmod)
	p.Chown.Apply(&base.Chown)
	p.Sharing.Apply(&base.Sharing)
	p.ReadOnly.Apply(&base.ReadOnly)
}

// BindPatch is a partial bind mount.
type BindPatch struct {
	Target    patch.Opt[string]
	From      FromPatch
	Source    patch.Opt[string]
	ReadWrite patch.Opt[bool]
}

// Apply implements patch.Patcher.
func (p BindPatch) Apply(base *model.Bind) {
	p.Target.Apply(&base.Target)
	p.From.Apply(&base.From)
	p.Source.Apply(&base.Source)
	p.ReadWrite.Apply(&base.ReadWrite)
}

// HealthcheckPatch is a partial healthcheck.
type HealthcheckPatch struct {
	Cmd      patch.Opt[string]
	Interval patch.Opt[string]
	Timeout  patch.Opt[string]
	Start    patch.Opt[string]
	Retries  patch.Opt[*int]
}

// Apply implements patch.Patcher.
func (p HealthcheckPatch) Apply(base *model.Healthcheck) {
	p.Cmd.Apply(&base.Cmd)
	p.Interval.Apply(&base.Interval)
	p.Timeout.Apply(&base.Timeout)
	p.Start.Apply(&base.Start)
	p.Retries.Apply(&base.Retries)
}

// copyVariant is the CopyResource variant a patch designates.
type copyVariant int

const (
	variantUnset copyVariant = iota
	variantCopy
	variantGitRepo
	variantAdd
)

// CopyPatch is a partial CopyResource. Fields that do not exist on the
// patched variant are ignored.
type CopyPatch struct {
	variant copyVariant

	From       FromPatch
	Paths      patch.List[string]
	Repo       patch.Opt[string]
	Files      patch.List[string]
	Target     patch.Opt[string]
	Chown      patch.Nested[model.User]
	Chmod      patch.Opt[string]
	Link       patch.Opt[*bool]
	Exclude    patch.List[string]
	Parents    patch.Opt[*bool]
	KeepGitDir patch.Opt[*bool]
	Checksum   patch.Opt[string]
}

// Apply implements patch.Patcher.
func (p *CopyPatch) Apply(base *model.CopyResource) {
	cur := model.CloneCopyResource(*base)
	if cur == nil || (p.variant != variantUnset && p.variant != variantOf(cur)) {
		cur = newVariant(p.variant, cur)
	}

	switch v := cur.(type) {
	case *model.Copy:
		p.From.Apply(&v.From)
		p.Paths.Apply(&v.Paths)
		p.Exclude.Apply(&v.Exclude)
		p.Parents.Apply(&v.Parents)
		p.applyOptions(&v.Options)
	case *model.AddGitRepo:
		p.Repo.Apply(&v.Repo)
		p.Exclude.Apply(&v.Exclude)
		p.KeepGitDir.Apply(&v.KeepGitDir)
		p.applyOptions(&v.Options)
	case *model.Add:
		p.Files.Apply(&v.Files)
		p.Checksum.Apply(&v.Checksum)
		p.applyOptions(&v.Options)
	}
	*base = cur
}

func (p *CopyPatch) applyOptions(o *model.CopyOptions) {
	p.Target.Apply(&o.Target)
	p.Chown.Apply(&o.Chown)
	p.Chmod.Apply(&o.Chmod)
	p.Link.Apply(&o.Link)
}

func variantOf(c model.CopyResource) copyVariant {
	switch c.(type) {
	case *model.AddGitRepo:
		return variantGitRepo
	case *model.Add:
		return variantAdd
	default:
		return variantCopy
	}
}

// newVariant creates an empty resource of the variant, keeping the shared
// options of prev.
func newVariant(v copyVariant, prev model.CopyResource) model.CopyResource {
	var opts model.CopyOptions
	if prev != nil {
		opts = prev.CopyOptions()
	}
	switch v {
	case variantGitRepo:
		return &model.AddGitRepo{Options: opts}
	case variantAdd:
		return &model.Add{Options: opts}
	default:
		return &model.Copy{Options: opts}
	}
}
