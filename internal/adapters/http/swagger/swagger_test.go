package swagger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func serve(mux *http.ServeMux, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestSwaggerHandler(t *testing.T) {
	convey.Convey("Given a registered docs handler", t, func() {
		mux := http.NewServeMux()
		Register(context.Background(), mux)

		convey.Convey("When fetching the description", func() {
			w := serve(mux, http.MethodGet, OpenAPIPath, nil)

			convey.Convey("Then it should serve the embedded document with an ETag", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "application/yaml; charset=utf-8")
				convey.So(w.Header().Get("ETag"), convey.ShouldEqual, openAPIETag)
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "/documents")
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "/races/{key}/observations")
			})
		})

		convey.Convey("When the client already holds the document", func() {
			w := serve(mux, http.MethodGet, OpenAPIPath, http.Header{"If-None-Match": {openAPIETag}})

			convey.Convey("Then it should answer not modified with no body", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusNotModified)
				convey.So(w.Body.Len(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When fetching the viewer", func() {
			w := serve(mux, http.MethodGet, DocsPath, nil)

			convey.Convey("Then it should point ReDoc at the description", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "text/html; charset=utf-8")
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "redoc-container")
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "Redoc.init('/openapi.yaml'")
			})
		})

		convey.Convey("When posting to either route", func() {
			convey.Convey("Then it should be refused", func() {
				for _, p := range []string{DocsPath, OpenAPIPath} {
					w := serve(mux, http.MethodPost, p, nil)
					convey.So(w.Code, convey.ShouldEqual, http.StatusMethodNotAllowed)
					convey.So(w.Header().Get("Allow"), convey.ShouldEqual, "GET, HEAD")
				}
			})
		})
	})
}

func TestSwaggerHandlerWithNilMux(t *testing.T) {
	convey.Convey("Given a nil mux", t, func() {
		convey.Convey("Then registering should panic", func() {
			convey.So(func() { Register(context.Background(), nil) }, convey.ShouldPanic)
		})
	})
}
