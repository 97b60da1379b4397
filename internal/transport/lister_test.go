package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/any-hub/resource-cache/internal/resource"
)

const listingPage = `<html><body>
<a href="../">Parent Directory</a>
<a href="?C=N;O=D">Name</a>
<a href="1.0/">1.0/</a>
<a href="1.1/">1.1/</a>
<a href="maven-metadata.xml">maven-metadata.xml</a>
<a href="maven-metadata.xml">duplicate</a>
<a href="/other/root/">elsewhere</a>
<a href="https://mirror.example.com/x">mirror</a>
<a href="1.0/lib-1.0.jar">nested</a>
</body></html>`

func TestHTMLListerParsesDirectChildren(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/maven2/org/lib/" {
			t.Errorf("listing should request the directory with a trailing slash, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, listingPage)
	}))
	defer server.Close()

	lister := NewHTMLLister(NewHTTPAccessor(NewClient(server.Client(), ClientOptions{})))
	names, err := lister.List(context.Background(), server.URL+"/maven2/org/lib")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if want := []string{"1.0", "1.1", "maven-metadata.xml"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestHTMLListerNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	lister := NewHTMLLister(NewHTTPAccessor(NewClient(server.Client(), ClientOptions{})))
	_, err := lister.List(context.Background(), server.URL+"/missing/")
	if !resource.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
