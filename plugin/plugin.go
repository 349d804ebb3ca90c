// Package plugin assembles the directive plugins shipped with the compiler.
package plugin

import (
	"github.com/ShadowCat567/amplify-category-api/plugin/auth"
	"github.com/ShadowCat567/amplify-category-api/plugin/function"
	"github.com/ShadowCat567/amplify-category-api/plugin/http"
	"github.com/ShadowCat567/amplify-category-api/plugin/index"
	"github.com/ShadowCat567/amplify-category-api/plugin/model"
	"github.com/ShadowCat567/amplify-category-api/plugin/predictions"
	"github.com/ShadowCat567/amplify-category-api/plugin/relational"
	"github.com/ShadowCat567/amplify-category-api/plugin/sql"
	"github.com/ShadowCat567/amplify-category-api/transformer"
)

// Defaults returns a fresh instance of every plugin. Plugins keep per run
// state, so each transform needs its own set.
func Defaults() []transformer.Plugin {
	return []transformer.Plugin{
		model.New(),
		auth.New(),
		index.New(),
		function.New(),
		sql.New(),
		http.New(),
		predictions.New(),
		relational.New(),
	}
}

// New returns a transform running the default plugins configured by opts.
func New(opts ...transformer.Option) (*transformer.GraphQLTransform, error) {
	return transformer.New(append([]transformer.Option{transformer.WithPlugins(Defaults()...)}, opts...)...)
}
