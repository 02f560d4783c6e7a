package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestHelp(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"help", "serve"}, nil, &out))
	require.Contains(t, out.String(), "serve FLAGS")

	out.Reset()
	require.NoError(t, run([]string{"help"}, nil, &out))
	require.Contains(t, out.String(), "COMMANDS")

	require.Error(t, run([]string{"help", "nope"}, nil, &out))
	require.Error(t, run([]string{"bogus"}, nil, &out))
	require.Error(t, run(nil, nil, &out))
}

func TestResolveFromStdin(t *testing.T) {
	fixtures := writeFile(t, "fixtures.json", `{
		"User": [{"id": 1, "display_name": "Ann"}, {"id": 2, "display_name": "Bob"}],
		"OrderLine": [{"orderId": 7, "sku": "a", "unit_price": 3}]
	}`)
	in := `{
		"query": "{ _entities(representations: []) { __typename ... on User { displayName } ... on OrderLine { unitPrice } } }",
		"representations": [
			{"__typename": "User", "id": "2"},
			{"__typename": "OrderLine", "sku": "a", "orderId": "7"},
			{"__typename": "User", "id": 2},
			{"__typename": "User", "id": "3"}
		]
	}`

	var out bytes.Buffer
	err := run([]string{"resolve", "--fixtures", fixtures, "--key", "OrderLine=orderId,sku"}, strings.NewReader(in), &out)
	require.NoError(t, err)
	require.Equal(t, `{"data":{"_entities":[`+
		`{"__typename":"User","displayName":"Bob"},`+
		`{"__typename":"OrderLine","unitPrice":3},`+
		`{"__typename":"User","displayName":"Bob"},`+
		`null]},"errors":[{"message":"entity User{id=i:3} not found","path":["_entities",3],`+
		`"extensions":{"code":"NOT_FOUND","kind":"NotFound"}}]}`, out.String())
}

func TestResolveRequiresFixtures(t *testing.T) {
	var out bytes.Buffer
	require.ErrorContains(t, run([]string{"resolve"}, strings.NewReader("{}"), &out), "--fixtures is required")
}

func TestServeValidatesFlags(t *testing.T) {
	require.ErrorContains(t, run([]string{"serve"}, nil, nil), "--entity is required")
	require.ErrorContains(t, run([]string{"serve", "--entity", "User", "--db.dsn", ""}, nil, nil), "--db.dsn is required")
	require.ErrorContains(t,
		run([]string{"serve", "--entity", "User", "--db.dsn", "postgres://x", "--db.codec", "xml"}, nil, nil),
		`unknown codec "xml"`)
}

func TestParseEntitySpec(t *testing.T) {
	s, err := parseEntitySpec("User")
	require.NoError(t, err)
	require.Equal(t, entitySpec{typename: "User"}, s)

	s, err = parseEntitySpec("OrderLine=orderId, sku@read.order_lines")
	require.NoError(t, err)
	require.Equal(t, entitySpec{typename: "OrderLine", keys: []string{"orderId", "sku"}, view: "read.order_lines"}, s)

	for _, bad := range []string{"", "=id", "User=id,", "User@"} {
		_, err := parseEntitySpec(bad)
		require.Error(t, err, bad)
	}
}
