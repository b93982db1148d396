package routes

import "testing"

func TestNewTable_FirstOccurrenceWins(t *testing.T) {
	table := NewTable(3, []RouteDescriptor{
		{Method: "GET", Path: "/users", Description: "first"},
		{Method: "GET", Path: "/users", Description: "second"},
		{Method: "POST", Path: "/users"},
	})

	if table.Generation != 3 {
		t.Errorf("expected generation 3, got %d", table.Generation)
	}
	if table.Len() != 3 {
		t.Errorf("expected all descriptors retained in order, got %d", table.Len())
	}

	r, ok := table.Find("GET", "/users")
	if !ok {
		t.Fatal("expected GET /users to resolve")
	}
	if r.Description != "first" {
		t.Errorf("expected the first occurrence to win, got %q", r.Description)
	}
}

func TestTable_FindMiss(t *testing.T) {
	table := EmptyTable()
	if _, ok := table.Find("GET", "/nope"); ok {
		t.Error("expected a miss on an empty table")
	}
}

func TestNewTable_CopiesInput(t *testing.T) {
	src := []RouteDescriptor{{Method: "GET", Path: "/a"}}
	table := NewTable(1, src)
	src[0].Path = "/mutated"

	if table.Routes[0].Path != "/a" {
		t.Error("table must not observe caller mutations")
	}
}

func TestRouteDescriptor_Validate(t *testing.T) {
	cases := []struct {
		name    string
		route   RouteDescriptor
		wantErr bool
	}{
		{"valid", RouteDescriptor{Method: "GET", Path: "/users/{id}", Params: []ParamSpec{{Name: "id", In: "path"}}}, false},
		{"empty method", RouteDescriptor{Path: "/x"}, true},
		{"bad method", RouteDescriptor{Method: "FETCH", Path: "/x"}, true},
		{"empty path", RouteDescriptor{Method: "GET"}, true},
		{"relative path", RouteDescriptor{Method: "GET", Path: "users"}, true},
		{"dotdot path", RouteDescriptor{Method: "GET", Path: "/a/../b"}, true},
		{"bad param location", RouteDescriptor{Method: "GET", Path: "/x", Params: []ParamSpec{{Name: "q", In: "header"}}}, true},
		{"unnamed param", RouteDescriptor{Method: "GET", Path: "/x", Params: []ParamSpec{{In: "query"}}}, true},
	}

	for _, tc := range cases {
		err := tc.route.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}
