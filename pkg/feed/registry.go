package feed

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/felixnotka/logfeeder/pkg/config"
)

// Env bundles everything a source or sink factory needs to construct itself.
type Env struct {
	Main     *config.Main
	Feeder   *config.Feeder
	Identity Identity
	Log      logr.Logger
}

// SourceFactory builds the Source for one sub-API of a feeder.
type SourceFactory func(ctx context.Context, env *Env, subAPI string) (Source, error)

// SinkFactory builds one sink variant.
type SinkFactory func(ctx context.Context, env *Env) (Sink, error)

var (
	sourceRegistry = map[string]SourceFactory{}
	sinkRegistry   = map[string]SinkFactory{}
)

// RegisterSource registers a feeder module under its name. Typically called
// from an init() function in the source package; the CLI selects which
// modules are linked in via blank imports.
func RegisterSource(name string, factory SourceFactory) {
	sourceRegistry[name] = factory
}

// RegisterSink registers a sink variant under its config name.
func RegisterSink(name string, factory SinkFactory) {
	sinkRegistry[name] = factory
}

// BuildSource creates the Source for the named feeder module.
func BuildSource(ctx context.Context, name string, env *Env, subAPI string) (Source, error) {
	factory, ok := sourceRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown feeder module: %s (not linked into this binary?)", name)
	}
	return factory(ctx, env, subAPI)
}

// BuildSink creates the named sink variant.
func BuildSink(ctx context.Context, name string, env *Env) (Sink, error) {
	factory, ok := sinkRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown sink: %s (not linked into this binary?)", name)
	}
	return factory(ctx, env)
}

// SourceNames returns the registered feeder module names, sorted.
func SourceNames() []string {
	names := make([]string, 0, len(sourceRegistry))
	for name := range sourceRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
