package jsgen

import (
	"github.com/go-playground/validator/v10"
)

// DefaultNamespace is the global variable used when Options.Namespace is empty or invalid.
const DefaultNamespace = "dynvoke"

var validate = validator.New()

func init() {
	validate.RegisterValidation("jsident", func(fl validator.FieldLevel) bool {
		return isIdentifier(fl.Field().String())
	})
}

// Options controls the generated client.
// The schema tags let a server decode them from a query string.
type Options struct {
	// Namespace is the global object holding the client. Default "dynvoke".
	Namespace string `schema:"namespace" validate:"omitempty,max=64,jsident"`

	// Prefix is prepended to every endpoint path, e.g. "/api".
	Prefix string `schema:"-" validate:"omitempty,startswith=/"`

	// Angular adds an AngularJS module exposing the client as "<namespace>Service".
	Angular bool `schema:"angular"`
}

// Normalize returns o with invalid fields replaced by their defaults.
func (o Options) Normalize() Options {
	if o.Namespace == "" || validate.Var(o.Namespace, "max=64,jsident") != nil {
		o.Namespace = DefaultNamespace
	}
	if o.Prefix != "" && validate.Var(o.Prefix, "startswith=/") != nil {
		o.Prefix = "/" + o.Prefix
	}
	for len(o.Prefix) > 0 && o.Prefix[len(o.Prefix)-1] == '/' {
		o.Prefix = o.Prefix[:len(o.Prefix)-1]
	}
	return o
}

// Validate reports the first invalid option.
func (o Options) Validate() error {
	return validate.Struct(o)
}
