package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/model"
)

var (
	jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	pngBytes  = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00}
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestReadImage(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantMIME string
		wantErr  bool
	}{
		{name: "jpeg", data: jpegBytes, wantMIME: "image/jpeg"},
		{name: "png", data: pngBytes, wantMIME: "image/png"},
		{name: "text is rejected", data: []byte("just some notes"), wantErr: true},
		{name: "too large", data: append(append([]byte{}, jpegBytes...), make([]byte, maxImageBytes)...), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "photo", tt.data)

			data, mimeType, err := readImage(path)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, common.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMIME, mimeType)
			assert.Equal(t, tt.data, data)
		})
	}
}

func TestReadImage_MissingFile(t *testing.T) {
	_, _, err := readImage(filepath.Join(t.TempDir(), "nope.jpg"))
	require.Error(t, err)
	assert.Equal(t, "Couldn't open the photo.", common.UserMessage(err))
}

func TestBuildRequest(t *testing.T) {
	photo := writeFile(t, "outfit.jpg", jpegBytes)

	tests := []struct {
		name    string
		flags   map[string]string
		want    model.Occasion
		tone    model.Tone
		lang    string
		wantErr bool
	}{
		{
			name:  "preset occasion is lowercased",
			flags: map[string]string{"occasion": "WORK", "tone": "brutal"},
			want:  model.Occasion{Preset: model.OccasionWork},
			tone:  model.ToneBrutal,
		},
		{
			name:  "custom occasion wins over preset",
			flags: map[string]string{"occasion": "work", "custom-occasion": "a gallery opening", "language": "fr"},
			want:  model.Occasion{Preset: model.OccasionCustom, Custom: "a gallery opening"},
			tone:  model.ToneBalanced,
			lang:  "fr",
		},
		{
			name:    "unknown tone",
			flags:   map[string]string{"occasion": "work", "tone": "savage"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := analyzeCmd()
			for k, v := range tt.flags {
				require.NoError(t, cmd.Flags().Set(k, v))
			}

			req, err := buildRequest(cmd, photo)
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Occasion)
			assert.Equal(t, tt.tone, req.Tone)
			assert.Equal(t, tt.lang, req.Language)
			assert.Equal(t, "image/jpeg", req.MimeType)
			assert.Equal(t, jpegBytes, req.Image)
		})
	}
}

func TestAnalyzeCmd_RequiresImage(t *testing.T) {
	cmd := analyzeCmd()
	cmd.SetArgs([]string{})
	cmd.RunE = func(*cobra.Command, []string) error { return nil }
	assert.Error(t, cmd.Execute())
}
