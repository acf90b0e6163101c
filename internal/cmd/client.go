package cmd

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/roombot/internal/client"
)

const clientTimeout = 2 * time.Minute

// newAPIClient returns a client for the server named by --server or
// server.url.
func newAPIClient() *client.Client {
	return client.New(
		viper.GetString("server.url"),
		viper.GetString("api_key"),
		&http.Client{Timeout: clientTimeout},
	)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
