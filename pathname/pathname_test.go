package pathname

import "testing"

func TestEncodeReservedSet(t *testing.T) {
	in := "a b\"c<d>e`f&g"
	p := FromClient(in)
	enc := p.Encoded()
	for _, r := range []byte{' ', '"', '<', '>', '`', '&'} {
		for i := 0; i < len(enc); i++ {
			if enc[i] == r {
				t.Fatalf("encoded form %q still contains reserved byte %q", enc, r)
			}
		}
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []string{"plain", "with space", "unicode-café", "a/b/c", "a+b.txt", ""}
	for _, c := range cases {
		p := FromClient(c)
		got, err := p.Plain()
		if err != nil {
			t.Fatalf("Plain() error for %q: %v", c, err)
		}
		if got != c {
			t.Fatalf("round trip mismatch: got %q want %q", got, c)
		}
	}
}

func TestEqualityOnEncodedForm(t *testing.T) {
	a := FromClient("same name")
	b := FromClient("same name")
	if !a.Equal(b) {
		t.Fatalf("expected equal PathNames")
	}

	c := FromEncoded("same%20name")
	if !a.Equal(c) {
		t.Fatalf("expected encoded forms to match")
	}
}

func TestDecodeErrorOnInvalidEscape(t *testing.T) {
	p := FromEncoded("bad%zz")
	if _, err := p.Plain(); err != ErrDecode {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}
