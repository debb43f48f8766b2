// Package jsgen renders a JavaScript client for a set of remote actions.
//
// The client is a plain script defining one global namespace object:
//
//	var dynvoke = {};
//	dynvoke.math.add({x: 2, y: 3}, function(sum) { ... }, function(status, text) { ... });
//
// Every call is an XMLHttpRequest POST of a JSON object to /{group}/{action}.
package jsgen

import (
	"bytes"
	"sort"
	"strings"
)

// Action is one callable action and the names of the parameters callers send.
type Action struct {
	Name   string
	Params []string
}

// Group is a named set of actions.
type Group struct {
	Name    string
	Actions []Action
}

// Model is a parameter object type; the client gets a constructor for it.
type Model struct {
	Name   string
	Fields []string
}

// API is everything the client exposes.
type API struct {
	Groups []Group
	Models []Model
}

// Generate renders the client for api. Output is deterministic for equal inputs.
func Generate(api API, opts Options) []byte {
	opts = opts.Normalize()
	e := &emitter{ns: opts.Namespace, prefix: opts.Prefix}

	groups := sortedGroups(api.Groups)
	models := append([]Model(nil), api.Models...)
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	e.line("var ", e.ns, " = {};")
	e.line(e.ns, ".endpoint = ", quote(e.prefix), ";")
	e.line(e.ns, ".models = {};")
	for _, m := range models {
		e.emitModel(m)
	}
	e.emitTransport()
	for _, g := range groups {
		e.emitGroup(g)
	}
	if opts.Angular {
		e.emitAngular(groups)
	}
	return e.buf.Bytes()
}

func sortedGroups(in []Group) []Group {
	groups := make([]Group, len(in))
	for i, g := range in {
		actions := append([]Action(nil), g.Actions...)
		sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
		groups[i] = Group{Name: g.Name, Actions: actions}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

type emitter struct {
	buf    bytes.Buffer
	ns     string
	prefix string
}

func (e *emitter) line(parts ...string) {
	for _, p := range parts {
		e.buf.WriteString(p)
	}
	e.buf.WriteByte('\n')
}

func (e *emitter) emitModel(m Model) {
	e.line()
	e.line(e.ns, ".models", member(m.Name), " = function(init) {")
	e.line("\tinit = init || {};")
	for _, f := range m.Fields {
		e.line("\tthis", member(f), " = init", member(f), ";")
	}
	e.line("};")
}

// emitTransport writes the shared request helper used by every action.
func (e *emitter) emitTransport() {
	e.line()
	e.line(e.ns, "._post = function(path, body, successFunc, failureFunc) {")
	e.line("\tvar xhr = new XMLHttpRequest();")
	e.line("\txhr.open(\"POST\", ", e.ns, ".endpoint + path, true);")
	e.line("\txhr.setRequestHeader(\"Content-Type\", \"application/json\");")
	e.line("\txhr.onreadystatechange = function() {")
	e.line("\t\tif (xhr.readyState !== 4) {")
	e.line("\t\t\treturn;")
	e.line("\t\t}")
	e.line("\t\tif (xhr.status === 200) {")
	e.line("\t\t\tif (successFunc) {")
	e.line("\t\t\t\tsuccessFunc(xhr.responseText ? JSON.parse(xhr.responseText) : undefined);")
	e.line("\t\t\t}")
	e.line("\t\t} else if (failureFunc) {")
	e.line("\t\t\tfailureFunc(xhr.status, xhr.responseText);")
	e.line("\t\t}")
	e.line("\t};")
	e.line("\txhr.send(JSON.stringify(body));")
	e.line("};")
}

func (e *emitter) emitGroup(g Group) {
	e.line()
	e.line(e.ns, member(g.Name), " = {};")
	for _, a := range g.Actions {
		e.line(e.ns, member(g.Name), member(a.Name), " = function(params, successFunc, failureFunc) {")
		e.line("\tparams = params || {};")
		e.line("\t", e.ns, "._post(", quote(path(g.Name, a.Name)), ", ", body("params", a.Params), ", successFunc, failureFunc);")
		e.line("};")
	}
}

func (e *emitter) emitAngular(groups []Group) {
	e.line()
	e.line("if (typeof angular !== \"undefined\") {")
	e.line("\tangular.module(", quote(e.ns), ", []).service(", quote(e.ns+"Service"), ", [\"$http\", function($http) {")
	e.line("\t\tvar post = function(path, body) {")
	e.line("\t\t\treturn $http.post(", e.ns, ".endpoint + path, body);")
	e.line("\t\t};")
	for _, g := range groups {
		e.line("\t\tthis", member(g.Name), " = {")
		for _, a := range g.Actions {
			e.line("\t\t\t", key(a.Name), ": function(params) {")
			e.line("\t\t\t\tparams = params || {};")
			e.line("\t\t\t\treturn post(", quote(path(g.Name, a.Name)), ", ", body("params", a.Params), ");")
			e.line("\t\t\t},")
		}
		e.line("\t\t};")
	}
	e.line("\t}]);")
	e.line("}")
}

func path(group, action string) string {
	return "/" + group + "/" + action
}

// body renders an object literal copying the named params from src.
func body(src string, params []string) string {
	if len(params) == 0 {
		return "{}"
	}
	fields := make([]string, len(params))
	for i, p := range params {
		fields[i] = key(p) + ": " + src + member(p)
	}
	return "{" + strings.Join(fields, ", ") + "}"
}
