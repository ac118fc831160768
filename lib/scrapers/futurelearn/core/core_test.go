package core

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const signInFixture = `
<html><body>
<form action="/sign-in" method="post">
  <input type="hidden" name="authenticity_token" value="csrf-123" />
  <input type="text" name="email" value="" />
  <input type="password" name="password" />
</form>
</body></html>`

func TestFormFields(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(signInFixture))
	require.NoError(t, err)

	fields := FormFields(doc)
	require.Equal(t, "csrf-123", fields["authenticity_token"])
	require.Equal(t, "", fields["email"])
	// inputs with no value attribute are left out entirely
	_, hasPassword := fields["password"]
	require.False(t, hasPassword)
}

func TestLogin(t *testing.T) {
	var posted map[string][]string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sign-in", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, signInFixture)
	})
	mux.HandleFunc("POST /sign-in", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		posted = r.PostForm
		if r.PostFormValue("password") != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "<html>welcome</html>")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	err = client.Login(ctx, "user@example.org", "wrong")
	require.ErrorIs(t, err, ErrLoginFailed)

	err = client.Login(ctx, "user@example.org", "hunter2")
	require.NoError(t, err)

	// credentials merge on top of the pre-filled hidden fields
	require.Equal(t, "csrf-123", posted["authenticity_token"][0])
	require.Equal(t, "user@example.org", posted["email"][0])

	err = client.Relogin(ctx)
	require.NoError(t, err)
}

func TestReloginBeforeLogin(t *testing.T) {
	ctx := context.Background()
	client, err := NewClient(ctx, ClientOptions{BaseUrl: "https://example.org"})
	require.NoError(t, err)
	require.Error(t, client.Relogin(ctx))
}
