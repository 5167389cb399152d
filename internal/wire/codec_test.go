package wire

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cs := CompleteState{
		DesiredState: DesiredState{
			APIVersion: SupportedAPIVersion,
			Workloads: map[string]Workload{
				"nginx": {
					Agent:         "agent_A",
					Runtime:       "podman",
					RuntimeConfig: "image: nginx:latest",
					RestartPolicy: RestartAlways,
				},
			},
		},
	}

	data, err := Encode(cs)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := DecodeCompleteState(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.DesiredState.APIVersion != cs.DesiredState.APIVersion {
		t.Errorf("apiVersion mismatch: got %q want %q", got.DesiredState.APIVersion, cs.DesiredState.APIVersion)
	}
	wl, ok := got.DesiredState.Workloads["nginx"]
	if !ok {
		t.Fatalf("expected workload nginx to round-trip")
	}
	if wl.RuntimeConfig != "image: nginx:latest" {
		t.Errorf("runtimeConfig mismatch: got %q", wl.RuntimeConfig)
	}

	// encode(decode(x)) == encode(x): re-encoding the decoded value reproduces
	// byte-identical output, since map keys sort deterministically.
	data2, err := Encode(got)
	if err != nil {
		t.Fatalf("re-encode failed: %v", err)
	}
	if string(data) != string(data2) {
		t.Errorf("encode(decode(x)) != encode(x):\n%s\n%s", data, data2)
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	bad := []byte{0xff, 0xfe, 0xfd}
	var cs CompleteState
	if err := Decode(bad, &cs); err != ErrInvalidUTF8 {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestDecodeSchemaMismatch(t *testing.T) {
	var cs CompleteState
	if err := Decode([]byte(`{"desiredState": "not-an-object"}`), &cs); err == nil {
		t.Fatal("expected schema mismatch error")
	}
}

func TestValidateWorkloadNameBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		wlName  string
		wantErr bool
	}{
		{"one char ok", "a", false},
		{"63 chars ok", repeat("a", 63), false},
		{"64 chars rejected", repeat("a", 64), true},
		{"empty rejected", "", true},
		{"invalid char rejected", "bad name!", true},
		{"valid with dash underscore", "my-workload_1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWorkloadName(tt.wlName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWorkloadName(%q) error = %v, wantErr %v", tt.wlName, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAccessRulesEmptyFilterMaskRejected(t *testing.T) {
	rules := AccessRules{
		AllowRules: []AccessRule{
			{State: &StateRule{Operation: OpRead, FilterMasks: nil}},
		},
	}
	if err := ValidateAccessRules(rules); err != ErrEmptyFilterMask {
		t.Fatalf("expected ErrEmptyFilterMask, got %v", err)
	}
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
