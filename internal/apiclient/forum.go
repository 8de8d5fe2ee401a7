package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

const maxTestimonialImage = 5 << 20

// Testimonial is a withdrawal-proof post for the community forum.
type Testimonial struct {
	Description string
	Filename    string
	Image       io.Reader
}

// UploadTestimonial posts a testimonial with its image as multipart form data
// and returns the server's confirmation message.
func (c *Client) UploadTestimonial(ctx context.Context, token string, t Testimonial) (string, error) {
	if t.Description == "" {
		return "", &ValidationError{Field: "description", Message: "deskripsi wajib diisi"}
	}
	if t.Image == nil || t.Filename == "" {
		return "", &ValidationError{Field: "image", Message: "gambar wajib diunggah"}
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("description", t.Description); err != nil {
		return "", fmt.Errorf("forum: write field: %w", err)
	}
	part, err := form.CreateFormFile("image", t.Filename)
	if err != nil {
		return "", fmt.Errorf("forum: create file part: %w", err)
	}
	n, err := io.Copy(part, io.LimitReader(t.Image, maxTestimonialImage+1))
	if err != nil {
		return "", fmt.Errorf("forum: copy image: %w", err)
	}
	if n > maxTestimonialImage {
		return "", &ValidationError{Field: "image", Message: "ukuran gambar maksimal 5MB"}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("forum: close form: %w", err)
	}

	env, err := c.do(ctx, call{
		op:          "forum_upload",
		method:      http.MethodPost,
		path:        "/forum",
		token:       token,
		body:        &buf,
		contentType: form.FormDataContentType(),
	})
	if err != nil {
		return "", err
	}
	return env.Message, nil
}
