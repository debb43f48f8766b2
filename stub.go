package dynvoke

import (
	"log/slog"
	"net/http"

	"github.com/broady/dynvoke/jsgen"
	"github.com/gorilla/schema"
)

var schemaDecoder = schema.NewDecoder()

func init() {
	schemaDecoder.IgnoreUnknownKeys(true)
}

// ClientAPI describes the registry's targets for the JavaScript client.
// Only external parameter names are exposed.
func ClientAPI(reg *Registry) jsgen.API {
	var api jsgen.API
	byGroup := make(map[string]int)
	for _, t := range reg.Targets() {
		i, ok := byGroup[t.group]
		if !ok {
			i = len(api.Groups)
			byGroup[t.group] = i
			api.Groups = append(api.Groups, jsgen.Group{Name: t.group})
		}
		params := make([]string, len(t.external))
		for j, p := range t.external {
			params[j] = p.Name
		}
		api.Groups[i].Actions = append(api.Groups[i].Actions, jsgen.Action{Name: t.action, Params: params})
	}
	for _, m := range reg.Models() {
		api.Models = append(api.Models, jsgen.Model{Name: m.Name, Fields: m.Fields})
	}
	return api
}

// stub returns the client for opts, generating it on first use.
func (s *Server) stub(opts jsgen.Options) []byte {
	if b, ok := s.stubs.Load(opts); ok {
		return b.([]byte)
	}
	b := jsgen.Generate(ClientAPI(s.dispatcher.Registry()), opts)
	actual, _ := s.stubs.LoadOrStore(opts, b)
	return actual.([]byte)
}

func (s *Server) serveStub(w http.ResponseWriter, r *http.Request) {
	opts := s.stubOptions
	if err := schemaDecoder.Decode(&opts, r.URL.Query()); err != nil {
		s.log().DebugContext(r.Context(), "invalid client options", slog.Any("error", err))
		s.write(w, errorResponse(NewError(CodeBadRequest, err.Error())))
		return
	}
	opts.Prefix = s.pathPrefix
	if err := opts.Validate(); err != nil {
		s.log().DebugContext(r.Context(), "invalid client options", slog.Any("error", err))
		s.write(w, errorResponse(NewError(CodeBadRequest, err.Error())))
		return
	}
	s.write(w, Response{
		StatusCode:  http.StatusOK,
		ContentType: "application/javascript",
		Body:        s.stub(opts.Normalize()),
	})
}
