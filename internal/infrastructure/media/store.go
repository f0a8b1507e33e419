package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidFilename 文件名清洗后为空或不合法
var ErrInvalidFilename = errors.New("invalid filename")

// Store 上传文件的本地目录存储；文件名即媒体 id
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("upload dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir 存储目录
func (s *Store) Dir() string {
	return s.dir
}

// SanitizeFilename 去掉路径部分，只保留 [A-Za-z0-9._-]，空白替换为下划线。
// 主体清洗后为空时用 uuid 代替，扩展名保留。
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" {
		base = ""
	}

	ext := cleanName(filepath.Ext(base))
	stem := strings.Trim(cleanName(strings.TrimSuffix(base, filepath.Ext(base))), "._")
	if ext == "." {
		ext = ""
	}
	if stem == "" {
		stem = uuid.NewString()
	}
	return stem + ext
}

func cleanName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Path 返回文件在存储目录中的路径；拒绝跨目录的名字
func (s *Store) Path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return filepath.Join(s.dir, filename), nil
}

// Save 以原子方式写入文件（同名覆盖），返回存储路径
func (s *Store) Save(filename string, r io.Reader) (string, error) {
	dst, err := s.Path(filename)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // rename 成功后为 no-op

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", filename, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("rename %s: %w", filename, err)
	}
	return dst, nil
}

// Exists 文件是否存在
func (s *Store) Exists(filename string) bool {
	p, err := s.Path(filename)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
