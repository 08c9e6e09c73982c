package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		spec    string
		want    int
		wantErr bool
	}{
		{spec: "line0", want: 0},
		{spec: "port0/line5", want: 5},
		{spec: "cDAQ1Mod4/port0/line11", want: 11},
		{spec: "Line3", want: 3},
		{spec: "ai3", wantErr: true},
		{spec: "line", wantErr: true},
		{spec: "line-1", wantErr: true},
		{spec: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseLine(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAnalog(t *testing.T) {
	tests := []struct {
		spec    string
		want    int
		wantErr bool
	}{
		{spec: "ai0", want: 0},
		{spec: "cDAQ1Mod2/ai7", want: 7},
		{spec: "AI2", want: 2},
		{spec: "line2", wantErr: true},
		{spec: "aiX", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseAnalog(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
