package jsgen

import (
	"bytes"
	"strings"
	"testing"
)

func testAPI() API {
	return API{
		Groups: []Group{
			{Name: "math", Actions: []Action{
				{Name: "sub", Params: []string{"a", "b"}},
				{Name: "add", Params: []string{"x", "y"}},
			}},
			{Name: "clock", Actions: []Action{{Name: "now"}}},
		},
		Models: []Model{{Name: "Point", Fields: []string{"x", "y", "first-name"}}},
	}
}

func TestGenerate_Defaults(t *testing.T) {
	out := string(Generate(testAPI(), Options{}))

	for _, want := range []string{
		"var dynvoke = {};",
		"dynvoke.models = {};",
		`dynvoke.endpoint = "";`,
		"dynvoke.models.Point = function(init) {",
		"this.x = init.x;",
		`this["first-name"] = init["first-name"];`,
		"dynvoke.math = {};",
		"dynvoke.math.add = function(params, successFunc, failureFunc) {",
		`dynvoke._post("/math/add", {x: params.x, y: params.y}, successFunc, failureFunc);`,
		`dynvoke._post("/clock/now", {}, successFunc, failureFunc);`,
		"new XMLHttpRequest()",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "angular") {
		t.Error("expected no angular service by default")
	}
}

func TestGenerate_SortedAndDeterministic(t *testing.T) {
	a := Generate(testAPI(), Options{})
	b := Generate(testAPI(), Options{})
	if !bytes.Equal(a, b) {
		t.Fatal("expected identical output for identical input")
	}

	out := string(a)
	if strings.Index(out, "dynvoke.clock = {};") > strings.Index(out, "dynvoke.math = {};") {
		t.Error("expected groups sorted by name")
	}
	if strings.Index(out, "dynvoke.math.add =") > strings.Index(out, "dynvoke.math.sub =") {
		t.Error("expected actions sorted by name")
	}
}

func TestGenerate_NamespaceAndPrefix(t *testing.T) {
	out := string(Generate(testAPI(), Options{Namespace: "api", Prefix: "/rpc/"}))

	if !strings.Contains(out, "var api = {};") {
		t.Errorf("expected custom namespace\n%s", out)
	}
	if !strings.Contains(out, `api.endpoint = "/rpc";`) {
		t.Errorf("expected trimmed prefix\n%s", out)
	}
	if !strings.Contains(out, "api.math.add") {
		t.Error("expected actions under custom namespace")
	}
}

func TestGenerate_Angular(t *testing.T) {
	out := string(Generate(testAPI(), Options{Angular: true}))

	for _, want := range []string{
		`angular.module("dynvoke", []).service("dynvokeService", ["$http", function($http) {`,
		"this.math = {",
		"add: function(params) {",
		`return post("/math/add", {x: params.x, y: params.y});`,
		"$http.post(dynvoke.endpoint + path, body)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q\n%s", want, out)
		}
	}
}

func TestGenerate_QuotesNonIdentifiers(t *testing.T) {
	api := API{Groups: []Group{{Name: "my-group", Actions: []Action{{Name: "delete", Params: []string{"class"}}}}}}
	out := string(Generate(api, Options{}))

	if !strings.Contains(out, `dynvoke["my-group"]["delete"] = function`) {
		t.Errorf("expected bracket access for non-identifiers\n%s", out)
	}
	if !strings.Contains(out, `{"class": params["class"]}`) {
		t.Errorf("expected quoted reserved key\n%s", out)
	}
}

func TestOptions_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   Options
		want Options
	}{
		{"empty", Options{}, Options{Namespace: DefaultNamespace}},
		{"valid", Options{Namespace: "client"}, Options{Namespace: "client"}},
		{"reserved", Options{Namespace: "class"}, Options{Namespace: DefaultNamespace}},
		{"invalid chars", Options{Namespace: "my-client"}, Options{Namespace: DefaultNamespace}},
		{"prefix without slash", Options{Prefix: "api"}, Options{Namespace: DefaultNamespace, Prefix: "/api"}},
		{"prefix trailing slash", Options{Prefix: "/api/"}, Options{Namespace: DefaultNamespace, Prefix: "/api"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestOptions_Validate(t *testing.T) {
	if err := (Options{Namespace: "ok_ns"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Options{Namespace: "1bad"}).Validate(); err == nil {
		t.Error("expected error for namespace starting with a digit")
	}
	if err := (Options{Prefix: "api"}).Validate(); err == nil {
		t.Error("expected error for prefix without leading slash")
	}
}

func TestIsIdentifier(t *testing.T) {
	tests := map[string]bool{
		"add":   true,
		"_x":    true,
		"$el":   true,
		"a1":    true,
		"1a":    false,
		"":      false,
		"a-b":   false,
		"var":   false,
		"await": false,
	}
	for name, want := range tests {
		if got := isIdentifier(name); got != want {
			t.Errorf("isIdentifier(%q) = %v, want %v", name, got, want)
		}
	}
}
