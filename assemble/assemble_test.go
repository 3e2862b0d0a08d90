package assemble

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
)

type mapReader struct {
	text  map[string]string
	bytes map[string][]byte
	err   error
}

func (m mapReader) ReadText(_ context.Context, a model.Attachment) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.text[a.ID], nil
}

func (m mapReader) ReadBytes(_ context.Context, a model.Attachment) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.bytes[a.ID], nil
}

func TestAssemblePassthroughWithoutAttachments(t *testing.T) {
	a := New(mapReader{})
	msgs := []model.Message{
		{Role: model.RoleUser, Content: "hello"},
		{Role: model.RoleAssistant, Content: "  spaced  "},
		{Role: model.RoleUser, Content: ""},
	}
	for _, target := range []Target{{Vision: true}, {Provider: "deepseek"}} {
		out, err := a.AssembleAll(context.Background(), msgs, target)
		require.NoError(t, err)
		require.Len(t, out, len(msgs))
		for i, m := range out {
			assert.Equal(t, string(msgs[i].Role), m.Role)
			assert.Equal(t, msgs[i].Content, m.Content)
			assert.Empty(t, m.Parts)
		}
	}
}

func TestAssembleFlatProviderAppendsFileText(t *testing.T) {
	reader := mapReader{text: map[string]string{"1": "alpha", "2": "beta"}}
	msg := model.Message{
		Role:    model.RoleUser,
		Content: "summarize",
		Attachments: []model.Attachment{
			{ID: "1", Name: "a.txt", Kind: model.AttachmentText},
			{ID: "img", Name: "pic.png", Kind: model.AttachmentImage},
			{ID: "2", Name: "b.md", Kind: model.AttachmentDocument},
		},
	}

	out, err := New(reader).Assemble(context.Background(), msg, Target{Vision: true, Provider: "DeepSeek"})
	require.NoError(t, err)

	want := "summarize" + Separator +
		"file: a.txt\n\nalpha" + Separator +
		"file: b.md\n\nbeta" + Separator
	assert.Equal(t, want, out.Content)
	assert.Empty(t, out.Parts)
}

func TestAssembleFlatContentFlag(t *testing.T) {
	msg := model.Message{
		Role:        model.RoleUser,
		Content:     "look",
		Attachments: []model.Attachment{{ID: "img", Name: "pic.png", Kind: model.AttachmentImage}},
	}
	out, err := New(mapReader{}).Assemble(context.Background(), msg, Target{Vision: true, FlatContent: true})
	require.NoError(t, err)
	assert.Equal(t, "look", out.Content, "images contribute nothing to flat content")
}

func TestAssembleStructuredParts(t *testing.T) {
	reader := mapReader{
		text:  map[string]string{"doc": "contents"},
		bytes: map[string][]byte{"img": []byte("PNG")},
	}
	msg := model.Message{
		Role:    model.RoleUser,
		Content: "compare",
		Attachments: []model.Attachment{
			{ID: "img", Name: "pic.png", Kind: model.AttachmentImage, MIME: "image/jpeg"},
			{ID: "doc", Name: "notes.txt", Kind: model.AttachmentText},
			{ID: "bin", Name: "blob.bin", Kind: model.AttachmentOther},
		},
	}

	out, err := New(reader).Assemble(context.Background(), msg, Target{Vision: true, Provider: "openai"})
	require.NoError(t, err)

	assert.Equal(t, []llm.ContentPart{
		llm.TextPart("compare"),
		llm.ImagePart("data:image/jpeg;base64,UE5H"),
		llm.TextPart("notes.txt\ncontents"),
	}, out.Parts)
}

func TestAssembleStructuredSkipsImagesWithoutVisionAndEmptyBody(t *testing.T) {
	reader := mapReader{text: map[string]string{"doc": "x"}}
	msg := model.Message{
		Role: model.RoleUser,
		Attachments: []model.Attachment{
			{ID: "img", Name: "pic.png", Kind: model.AttachmentImage},
			{ID: "doc", Name: "d.txt", Kind: model.AttachmentText},
		},
	}

	out, err := New(reader).Assemble(context.Background(), msg, Target{Provider: "openai"})
	require.NoError(t, err)
	assert.Equal(t, []llm.ContentPart{llm.TextPart("d.txt\nx")}, out.Parts)
}

func TestAssemblePropagatesReadErrors(t *testing.T) {
	boom := errors.New("disk gone")
	msg := model.Message{
		Role:        model.RoleUser,
		Attachments: []model.Attachment{{ID: "doc", Name: "d.txt", Kind: model.AttachmentText}},
	}
	_, err := New(mapReader{err: boom}).Assemble(context.Background(), msg, Target{})
	assert.ErrorIs(t, err, boom)
}

func TestDiskReader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello disk"), 0o644))

	reader := NewDiskReader(dir)
	text, err := reader.ReadText(context.Background(), model.Attachment{Name: "note.txt", Path: "note.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello disk", text)

	_, err = reader.ReadText(context.Background(), model.Attachment{Name: "missing", Path: "missing.txt"})
	assert.Error(t, err)

	reader.MaxSizeBytes = 3
	_, err = reader.ReadBytes(context.Background(), model.Attachment{Name: "note.txt", Path: "note.txt"})
	assert.ErrorContains(t, err, "too large")
}
