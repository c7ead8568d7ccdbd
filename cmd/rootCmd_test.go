package cmd

import "testing"

func TestGetPorts(t *testing.T) {
	cases := []struct {
		selection string
		want      []int
		wantErr   bool
	}{
		{"22,80,443", []int{22, 80, 443}, false},
		{"8080-8082", []int{8080, 8081, 8082}, false},
		{" 22 , 80 ", []int{22, 80}, false},
		{"80-79", nil, true},
		{"0", nil, true},
		{"65536", nil, true},
		{"0-80", nil, true},
		{"abc", nil, true},
		{"22-", nil, true},
		{"1-2-3", nil, true},
	}

	for _, tc := range cases {
		got, err := getPorts(tc.selection)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.selection)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.selection, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%q: got %v, want %v", tc.selection, got, tc.want)
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("%q: got %v, want %v", tc.selection, got, tc.want)
			}
		}
	}
}

func TestGetPortsEmptyUsesBuiltins(t *testing.T) {
	ports, err := getPorts("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	//没指定端口时用内置的常见端口表
	if len(ports) == 0 {
		t.Fatal("builtin port list is empty")
	}
}
