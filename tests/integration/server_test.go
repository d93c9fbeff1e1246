//go:build integration

package integration

import (
	"net/http"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ServesIntrospectedEntities(t *testing.T) {
	testDB := newShopDB(t)
	const port = 18091
	startTestServer(t, port, baseServerEnv(testDB)...)

	status, body := getJSON(t, port, "/entities", nil)
	require.Equal(t, http.StatusOK, status)
	assert.ElementsMatch(t, []any{"Customer", "Order", "OrderItem"}, body["entities"])

	query := url.Values{}
	query.Set("filters", `[{"field":"customer.name","value":"Grace"}]`)
	query.Set("embeds", "customer,order_items")
	status, body = getJSON(t, port, "/entities/Order", query)
	require.Equal(t, http.StatusOK, status, body)
	list := body["list"].([]any)
	require.Len(t, list, 1)
	order := list[0].(map[string]any)
	assert.Equal(t, "Grace", order["customer"].(map[string]any)["name"])
	assert.Len(t, order["order_items"], 1)

	status, _ = getJSON(t, port, "/entities/Order/one", url.Values{"filters": {`[{"field":"id","value":999}]`}})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = getJSON(t, port, "/entities/Nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_GracefulShutdown(t *testing.T) {
	testDB := newShopDB(t)
	cmd := startTestServer(t, 18092, baseServerEnv(testDB)...)

	require.NoError(t, cmd.Process.Signal(syscall.SIGTERM))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		assert.NoError(t, err, "server should exit cleanly after SIGTERM")
	case <-time.After(35 * time.Second):
		t.Fatal("server did not shut down within 35 seconds")
	}
}
