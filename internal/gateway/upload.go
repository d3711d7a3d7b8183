package gateway

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/desksrv/host/internal/audit"
	apperrors "github.com/desksrv/host/internal/errors"
)

// UploadDir is the directory under the served root that receives uploads.
const UploadDir = "upload"

// uploadResult summarizes a parsed multipart body.
type uploadResult struct {
	Fields map[string]string
	Files  []string
}

// handleUpload stores every file part of a multipart/form-data body.
func (s *Server) handleUpload(x *exchange) *Response {
	res, err := s.receiveUpload(x)
	if err != nil {
		code, msg := apperrors.ToCodeAndMessage(err)
		log.Printf("gateway: upload from %s failed: %v", x.remote, err)
		if code == apperrors.CodeGatewayBadRequest {
			return jsonResponse(http.StatusBadRequest, msg)
		}
		return jsonResponse(http.StatusInternalServerError, msg)
	}

	for _, name := range res.Files {
		audit.Record(s.audit, audit.Event{Kind: audit.KindUpload, ConnID: x.id, RemoteAddr: x.remote, Detail: name})
	}
	log.Printf("gateway: %s uploaded %d file(s), %d field(s)", x.remote, len(res.Files), len(res.Fields))
	return jsonResponse(http.StatusOK, "upload succeeded")
}

func (s *Server) receiveUpload(x *exchange) (*uploadResult, error) {
	mediaType, params, err := mime.ParseMediaType(x.req.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
		return nil, apperrors.BadRequest("expected multipart/form-data with a boundary")
	}

	dir := filepath.Join(s.root, UploadDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.UploadFailed(UploadDir, err)
	}

	res := &uploadResult{Fields: make(map[string]string)}
	mr := multipart.NewReader(x.req.Body, params["boundary"])
	for {
		part, err := mr.NextRawPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(res.Files) > 0 || len(res.Fields) > 0 {
				// Trailing garbage after complete parts.
				break
			}
			return nil, apperrors.BadRequest(fmt.Sprintf("malformed multipart body: %v", err))
		}

		_, disp, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if err != nil || disp["name"] == "" {
			part.Close()
			return nil, apperrors.BadRequest("multipart part without a name")
		}

		filename, isFile := disp["filename"]
		if !isFile {
			value, err := io.ReadAll(part)
			part.Close()
			if err != nil {
				return nil, apperrors.BadRequest(fmt.Sprintf("malformed field %s: %v", disp["name"], err))
			}
			res.Fields[disp["name"]] = string(value)
			continue
		}

		name, err := uploadName(filename)
		if err != nil {
			part.Close()
			return nil, err
		}
		if err := writeUpload(filepath.Join(dir, name), part); err != nil {
			part.Close()
			return nil, apperrors.UploadFailed(name, err)
		}
		part.Close()
		res.Files = append(res.Files, name)
	}

	if len(res.Files) == 0 && len(res.Fields) == 0 {
		return nil, apperrors.BadRequest("no form fields or files in upload")
	}
	return res, nil
}

// uploadName percent-decodes a client file name and rejects anything that
// is not a single path element.
func uploadName(raw string) (string, error) {
	name, err := url.PathUnescape(raw)
	if err != nil {
		name = raw
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", apperrors.UploadFailed(raw, errors.New("invalid file name"))
	}
	return name, nil
}

// writeUpload copies r to path. A partial file is removed on failure.
func writeUpload(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
