package hosts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name      string
		region    string
		hasRegion bool
		domains   []string
		want      string
	}{
		{
			name:      "sorted and deduplicated",
			region:    "eu",
			hasRegion: true,
			domains:   []string{"B.com", "a.com", "a.com"},
			want:      "# clusterbanned start region:eu\n0.0.0.0 a.com\n0.0.0.0 b.com\n# clusterbanned end",
		},
		{
			name:    "no region tag",
			domains: []string{"a.com"},
			want:    "# clusterbanned start\n0.0.0.0 a.com\n# clusterbanned end",
		},
		{
			name:      "empty set encodes to nothing",
			region:    "eu",
			hasRegion: true,
			domains:   []string{},
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.region, tt.hasRegion, tt.domains))
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	domains := []string{"z.example.com", "a.example.com", "m.example.com"}
	blocks := Decode(Encode("asia", true, domains))

	require.Len(t, blocks, 1)
	assert.Equal(t, "asia", blocks[0].Region)
	assert.True(t, blocks[0].HasRegion)
	assert.Equal(t, []string{"a.example.com", "m.example.com", "z.example.com"}, blocks[0].Domains)
}

func TestDecodeTolerant(t *testing.T) {
	text := "127.0.0.1 localhost\n" +
		"# clusterbanned start region:na extra words\n" +
		"junk\n" +
		"\n" +
		"# a comment inside\n" +
		"0.0.0.0 A.Example.com trailing\n" +
		"# clusterbanned end\n" +
		"# clusterbanned start region:\n" +
		"0.0.0.0 b.example.com\n" +
		"# clusterbanned end\n" +
		"# clusterbanned start region:tail\n" +
		"0.0.0.0 c.example.com\n"

	blocks := Decode(text)
	require.Len(t, blocks, 2)

	assert.Equal(t, "na", blocks[0].Region)
	assert.Equal(t, []string{"a.example.com"}, blocks[0].Domains)
	assert.Equal(t, len("127.0.0.1 localhost\n"), blocks[0].Start)
	assert.Equal(t, EndMarker, text[blocks[0].End-len(EndMarker):blocks[0].End])

	assert.False(t, blocks[1].HasRegion)
	assert.Equal(t, []string{"b.example.com"}, blocks[1].Domains)
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Example.COM.", want: "example.com"},
		{in: "  login.example.net ", want: "login.example.net"},
		{in: "bücher.de", want: "xn--bcher-kva.de"},
		{in: "", wantErr: true},
		{in: "two words.com", wantErr: true},
		{in: "evil.com#comment", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeDomain(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
