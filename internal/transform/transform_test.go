package transform

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/entityflow/internal/selection"
)

func TestCamelCase(t *testing.T) {
	cases := map[string]string{
		"display_name":      "displayName",
		"displayName":       "displayName",
		"id":                "id",
		"__typename":        "__typename",
		"_private_note":     "_privateNote",
		"home_address_line": "homeAddressLine",
		"a__b":              "aB",
		"trailing_":         "trailing",
		"":                  "",
	}
	for in, want := range cases {
		require.Equal(t, want, CamelCase(in), in)
		require.Equal(t, want, CamelCase(CamelCase(in)), "idempotent for %q", in)
	}
}

func TestEntity_StoredRowToResponse(t *testing.T) {
	doc := map[string]any{"user_id": "1", "display_name": "Ann", "secret_note": "x"}
	set := selection.Set{{Name: "__typename"}, {Name: "id"}, {Name: "displayName"}}

	got, err := Entity(doc, set, "User")
	require.NoError(t, err)
	want := map[string]any{"__typename": "User", "id": "1", "displayName": "Ann"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "x", doc["secret_note"], "input must not be mutated")
}

func TestEntity_Idempotent(t *testing.T) {
	doc := map[string]any{
		"id":           "7",
		"display_name": "Ann",
		"home_address": map[string]any{"zip_code": "1000", "street_name": "Main"},
		"order_lines":  []any{map[string]any{"unit_price": 3, "sku": "a"}},
	}
	set := selection.Set{
		{Name: "__typename"},
		{Name: "displayName"},
		{Name: "homeAddress", Selections: selection.Set{{Name: "zipCode"}}},
		{Name: "orderLines", Selections: selection.Set{{Name: "unitPrice"}}},
	}
	once, err := Entity(doc, set, "User")
	require.NoError(t, err)
	twice, err := Entity(once, set, "User")
	require.NoError(t, err)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("second application changed the value (-once +twice):\n%s", diff)
	}

	aliased := selection.Set{
		{Name: "__typename", Alias: "kind"},
		{Name: "id", Alias: "key"},
		{Name: "displayName", Alias: "name"},
		{Name: "homeAddress", Alias: "home", Selections: selection.Set{{Name: "zipCode", Alias: "zip"}}},
	}
	once, err = Entity(doc, aliased, "User")
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"kind": "User", "key": "7", "name": "Ann", "home": map[string]any{"zip": "1000"},
	}, once)
	twice, err = Entity(once, aliased, "User")
	require.NoError(t, err)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("second aliased application changed the value (-once +twice):\n%s", diff)
	}

	whole, err := Entity(doc, nil, "User")
	require.NoError(t, err)
	again, err := Entity(whole, nil, "User")
	require.NoError(t, err)
	require.Equal(t, whole, again)
}

func TestEntity_ProjectsExactSubset(t *testing.T) {
	doc := map[string]any{
		"id":          "1",
		"first_name":  "Ann",
		"last_name":   "Lee",
		"email":       "ann@example.com",
		"profile_url": "https://example.com/ann",
	}
	set := selection.Set{{Name: "firstName"}, {Name: "email"}}

	got, err := Entity(doc, set, "User")
	require.NoError(t, err)
	obj := got.(map[string]any)
	require.Len(t, obj, 2)
	require.Equal(t, "Ann", obj["firstName"])
	require.Equal(t, "ann@example.com", obj["email"])
	_, hasTypename := obj["__typename"]
	require.False(t, hasTypename, "type tag only appears when selected")
}

func TestEntity_AbsentFieldIsNull(t *testing.T) {
	got, err := Entity(map[string]any{"id": "1"}, selection.Set{
		{Name: "id"},
		{Name: "nickname"},
		{Name: "address", Selections: selection.Set{{Name: "city"}}},
	}, "User")
	require.NoError(t, err)
	want := map[string]any{"id": "1", "nickname": nil, "address": nil}
	require.Equal(t, want, got)
}

func TestEntity_NestedAndArrays(t *testing.T) {
	doc := map[string]any{
		"id": "o1",
		"line_items": []any{
			map[string]any{"sku_code": "a", "unit_price": 3, "warehouse_bin": "x"},
			map[string]any{"sku_code": "b", "unit_price": 4},
			nil,
		},
		"meta_data": map[string]any{"created_at": "2024-01-01", "raw_json": map[string]any{"inner_key": 1}},
	}
	set := selection.Set{
		{Name: "lineItems", Alias: "items", Selections: selection.Set{{Name: "skuCode"}, {Name: "unitPrice"}}},
		{Name: "metaData"},
	}

	got, err := Entity(doc, set, "Order")
	require.NoError(t, err)
	want := map[string]any{
		"items": []any{
			map[string]any{"skuCode": "a", "unitPrice": 3},
			map[string]any{"skuCode": "b", "unitPrice": 4},
			nil,
		},
		"metaData": map[string]any{"createdAt": "2024-01-01", "rawJson": map[string]any{"innerKey": 1}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestEntity_TypenameConflict(t *testing.T) {
	doc := map[string]any{"id": "1", "__typename": "Admin"}

	_, err := Entity(doc, selection.Set{{Name: "__typename"}}, "User")
	require.ErrorIs(t, err, ErrTypenameConflict)

	_, err = Entity(doc, nil, "User")
	require.ErrorIs(t, err, ErrTypenameConflict)

	// Not selected: the stored tag is dropped with the other unselected fields.
	got, err := Entity(doc, selection.Set{{Name: "id"}}, "User")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"id": "1"}, got)

	got, err = Entity(map[string]any{"__typename": "User"}, selection.Set{{Name: "__typename"}}, "User")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"__typename": "User"}, got)
}

func TestEntity_NotObject(t *testing.T) {
	_, err := Entity([]any{"x"}, nil, "User")
	require.ErrorIs(t, err, ErrNotObject)
}

func TestEntity_CamelKeyWinsCollision(t *testing.T) {
	got, err := Entity(map[string]any{"display_name": "old", "displayName": "new"}, nil, "User")
	require.NoError(t, err)
	require.Equal(t, "new", got.(map[string]any)["displayName"])
}

func TestEntity_SnakeKeyCollisionIsDeterministic(t *testing.T) {
	doc := map[string]any{"user_id": "b", "user__id": "a"}
	for i := 0; i < 50; i++ {
		got, err := Entity(doc, nil, "User")
		require.NoError(t, err)
		require.Equal(t, "a", got.(map[string]any)["userId"])
	}
	got, err := Entity(map[string]any{"user_id": "b", "user__id": "a", "userId": "c"}, nil, "User")
	require.NoError(t, err)
	require.Equal(t, "c", got.(map[string]any)["userId"])
}

func TestProject_NestedTypenameComesFromDocument(t *testing.T) {
	set := selection.Set{
		{Name: "owner", Selections: selection.Set{{Name: "__typename"}, {Name: "id"}}},
		{Name: "team", Selections: selection.Set{{Name: "__typename"}}},
	}
	got, err := Entity(map[string]any{
		"owner": map[string]any{"__typename": "Admin", "id": "9"},
		"team":  map[string]any{"name": "core"},
	}, set, "Project")
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"owner": map[string]any{"__typename": "Admin", "id": "9"},
		"team":  map[string]any{"__typename": nil},
	}, got)
}

func TestKeys(t *testing.T) {
	in := []any{map[string]any{"a_b": []any{map[string]any{"c_d": 1}}}, "e_f"}
	want := []any{map[string]any{"aB": []any{map[string]any{"cD": 1}}}, "e_f"}
	require.Equal(t, want, Keys(in))
}
