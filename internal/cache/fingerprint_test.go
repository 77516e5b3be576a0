package cache

import "testing"

func TestFingerprintFieldsOrderIndependent(t *testing.T) {
	a := FingerprintFields(map[string]string{"types": "group,private", "unread": "true"})
	b := FingerprintFields(map[string]string{"unread": "true", "types": "group,private"})
	if a != b {
		t.Errorf("fingerprints differ for equal field sets: %q vs %q", a, b)
	}
	if a != "types=group,private|unread=true" {
		t.Errorf("fingerprint = %q, want sorted key order", a)
	}
}

func TestFingerprintFieldsDistinguishesValues(t *testing.T) {
	a := FingerprintFields(map[string]string{"unread": "true"})
	b := FingerprintFields(map[string]string{"unread": "false"})
	if a == b {
		t.Error("fingerprints equal for different values")
	}
}

func TestSetField(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"empty", nil, ""},
		{"single", []string{"private"}, "private"},
		{"sorted", []string{"group", "private"}, "group,private"},
		{"unsorted input", []string{"private", "group"}, "group,private"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SetField(tt.values); got != tt.want {
				t.Errorf("SetField(%v) = %q, want %q", tt.values, got, tt.want)
			}
		})
	}
}

func TestSetFieldDoesNotMutateInput(t *testing.T) {
	values := []string{"private", "group"}
	SetField(values)
	if values[0] != "private" || values[1] != "group" {
		t.Errorf("input mutated: %v", values)
	}
}

func TestChatIDsKeyOrderIndependent(t *testing.T) {
	a := ChatIDsKey([]int64{3, 1, 2})
	b := ChatIDsKey([]int64{1, 2, 3})
	if a != b {
		t.Errorf("keys differ for equal id sets: %q vs %q", a, b)
	}

	c := ChatIDsKey([]int64{1, 2, 4})
	if a == c {
		t.Error("keys equal for different id sets")
	}
}
