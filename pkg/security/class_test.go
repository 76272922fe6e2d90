package security

import "testing"

func TestClassIsS2(t *testing.T) {
	tests := []struct {
		class Class
		want  bool
	}{
		{ClassS2Unauthenticated, true},
		{ClassS2Authenticated, true},
		{ClassS2AccessControl, true},
		{ClassS0Legacy, false},
		{ClassTemporary, false},
		{ClassNone, false},
	}
	for _, tc := range tests {
		if got := tc.class.IsS2(); got != tc.want {
			t.Errorf("%v.IsS2() = %v, want %v", tc.class, got, tc.want)
		}
	}
}

func TestHighest(t *testing.T) {
	tests := []struct {
		name    string
		classes []Class
		want    Class
	}{
		{"empty", nil, ClassNone},
		{"single", []Class{ClassS2Unauthenticated}, ClassS2Unauthenticated},
		{"access wins", []Class{ClassS0Legacy, ClassS2Unauthenticated, ClassS2AccessControl}, ClassS2AccessControl},
		{"auth over unauth", []Class{ClassS2Unauthenticated, ClassS2Authenticated}, ClassS2Authenticated},
		{"s0 lowest", []Class{ClassS0Legacy, ClassS2Unauthenticated}, ClassS2Unauthenticated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Highest(tc.classes); got != tc.want {
				t.Errorf("Highest(%v) = %v, want %v", tc.classes, got, tc.want)
			}
		})
	}
}

func TestS2ClassesOrder(t *testing.T) {
	got := S2Classes()
	want := []Class{ClassS2Unauthenticated, ClassS2Authenticated, ClassS2AccessControl}
	if len(got) != len(want) {
		t.Fatalf("S2Classes() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("S2Classes()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
