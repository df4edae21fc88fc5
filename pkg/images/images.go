package images

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agentrun/agentrun/pkg/config"
)

// ErrUnknownType is returned when no image is configured for a sandbox type.
var ErrUnknownType = errors.New("unknown sandbox type")

// Resolver maps sandbox types to canonical images and canonical images to
// the concrete reference a given backend should run.
type Resolver struct {
	types    map[string]string
	rewrites map[string]map[string]string
}

// NewResolver builds a Resolver from the image configuration.
func NewResolver(cfg config.ImageConfig) *Resolver {
	return &Resolver{
		types:    cfg.Types,
		rewrites: cfg.Rewrites,
	}
}

// ImageFor returns the canonical image for a sandbox type. A non-empty
// version replaces the configured tag.
func (r *Resolver) ImageFor(sandboxType, version string) (string, error) {
	image, ok := r.types[sandboxType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, sandboxType)
	}
	if version != "" {
		image = swapTag(image, version)
	}
	return image, nil
}

// swapTag replaces the tag of a reference. Digest-pinned references are
// left alone.
func swapTag(image, tag string) string {
	if strings.Contains(image, "@") {
		return image
	}
	slash := strings.LastIndex(image, "/")
	if colon := strings.LastIndex(image, ":"); colon > slash {
		image = image[:colon]
	}
	return image + ":" + tag
}

// Rewrite returns the reference backend should use for image. Images with
// no entry in the backend's table pass through unchanged, so a cluster can
// rewrite only the images its registry mirrors.
func (r *Resolver) Rewrite(backend, image string) string {
	table, ok := r.rewrites[backend]
	if !ok {
		return image
	}
	if concrete, ok := table[image]; ok {
		return concrete
	}
	return image
}

// Resolve combines ImageFor and Rewrite: the concrete reference backend
// should run for a sandbox type, plus the canonical name it answers to.
func (r *Resolver) Resolve(backend, sandboxType, version string) (canonical, concrete string, err error) {
	canonical, err = r.ImageFor(sandboxType, version)
	if err != nil {
		return "", "", err
	}
	return canonical, r.Rewrite(backend, canonical), nil
}

// Types returns the configured sandbox types, sorted.
func (r *Resolver) Types() []string {
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
