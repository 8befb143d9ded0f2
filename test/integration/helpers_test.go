//go:build integration

package integration

import (
	"net"
	"net/url"
	"os"
	"testing"
)

// pgConnString points at the view database used by the postgres tests. The
// compose defaults listen on 25432 to stay clear of a local server.
func pgConnString(t *testing.T) string {
	t.Helper()
	u := url.URL{
		Scheme: "postgres",
		User: url.UserPassword(
			envOrDefault("OPDBT_TEST_PG_USER", "postgres"),
			envOrDefault("OPDBT_TEST_PG_PASSWORD", "postgres"),
		),
		Host:     net.JoinHostPort(envOrDefault("OPDBT_TEST_PG_HOST", "localhost"), envOrDefault("OPDBT_TEST_PG_PORT", "25432")),
		Path:     "/" + envOrDefault("OPDBT_TEST_PG_DATABASE", "opdbt_test"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func mongoURI(t *testing.T) string {
	t.Helper()
	return envOrDefault("OPDBT_TEST_MONGO_URI", "mongodb://localhost:37017/?directConnection=true")
}

func mongoDatabase(t *testing.T) string {
	t.Helper()
	return envOrDefault("OPDBT_TEST_MONGO_DATABASE", "opdbt_test")
}

func skipIfNoPostgres(t *testing.T) {
	t.Helper()
	if os.Getenv("OPDBT_TEST_PG_HOST") == "" && os.Getenv("OPDBT_TEST_PG_PORT") == "" {
		t.Skip("skipping: OPDBT_TEST_PG_HOST/PORT not set")
	}
}

func skipIfNoMongo(t *testing.T) {
	t.Helper()
	if os.Getenv("OPDBT_TEST_MONGO_URI") == "" {
		t.Skip("skipping: OPDBT_TEST_MONGO_URI not set")
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
