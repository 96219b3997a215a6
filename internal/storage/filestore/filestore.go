// Пакет filestore — хранение содержимого документов на диске.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету,
// чтение, удаление и повторную проверку сохранённого содержимого.
package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// sniffLen — число байт, по которым определяется MIME-тип.
const sniffLen = 512

// ErrNotFound — файл отсутствует в хранилище.
var ErrNotFound = errors.New("файл не найден в хранилище")

// FileStore — хранилище содержимого документов в директории на диске.
type FileStore struct {
	// dataDir — корневая директория хранения (SM_STORAGE_DIR)
	dataDir string
}

// SaveResult — результат сохранения содержимого.
type SaveResult struct {
	// StoragePath — имя файла в dataDir
	StoragePath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
	// MimeType — MIME-тип по сигнатуре содержимого
	MimeType string
}

// FileInfo — сведения о сохранённом содержимом.
type FileInfo struct {
	Size     int64
	Checksum string
	MimeType string
}

// New создаёт FileStore. Создаёт директорию, если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию хранилища %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// Save записывает содержимое из reader под новым уникальным именем.
// Формат имени: {name}_{owner}_{timestamp}_{uuid}.{ext}
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) Save(reader io.Reader, originalFilename, owner string) (*SaveResult, error) {
	storageName := generateStorageName(originalFilename, owner)
	fullPath := filepath.Join(fs.dataDir, storageName)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Первые sniffLen байт сохраняются для определения MIME-типа
	hasher := sha256.New()
	head := &headBuffer{limit: sniffLen}
	tee := io.TeeReader(reader, io.MultiWriter(hasher, head))

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StoragePath: storageName,
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		MimeType:    http.DetectContentType(head.Bytes()),
	}, nil
}

// SaveBytes — Save для содержимого в памяти.
func (fs *FileStore) SaveBytes(data []byte, originalFilename, owner string) (*SaveResult, error) {
	return fs.Save(bytes.NewReader(data), originalFilename, owner)
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(storagePath string) (*os.File, error) {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}

	return f, nil
}

// Delete удаляет файл. Отсутствующий файл ошибкой не считается.
func (fs *FileStore) Delete(storagePath string) error {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// Exists проверяет наличие файла.
func (fs *FileStore) Exists(storagePath string) bool {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// Inspect читает сохранённый файл целиком и возвращает его размер,
// SHA-256 и MIME-тип.
func (fs *FileStore) Inspect(storagePath string) (*FileInfo, error) {
	f, err := fs.Open(storagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hasher := sha256.New()
	head := &headBuffer{limit: sniffLen}
	size, err := io.Copy(io.MultiWriter(hasher, head), f)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", storagePath, err)
	}

	return &FileInfo{
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
		MimeType: http.DetectContentType(head.Bytes()),
	}, nil
}

// resolve возвращает абсолютный путь файла, не выходящий за пределы dataDir.
func (fs *FileStore) resolve(storagePath string) (string, error) {
	if !filepath.IsLocal(storagePath) {
		return "", fmt.Errorf("недопустимый путь в хранилище: %q", storagePath)
	}
	return filepath.Join(fs.dataDir, storagePath), nil
}

// headBuffer запоминает первые limit байт потока.
type headBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if rest := h.limit - h.buf.Len(); rest > 0 {
		if len(p) < rest {
			rest = len(p)
		}
		h.buf.Write(p[:rest])
	}
	return len(p), nil
}

func (h *headBuffer) Bytes() []byte {
	return h.buf.Bytes()
}

// generateStorageName генерирует уникальное имя файла.
// Формат: {name}_{owner}_{timestamp}_{uuid}.{ext}
// Пример: resolucion_jperez_20260221150405_a1b2c3d4.pdf
func generateStorageName(originalFilename, owner string) string {
	ext := sanitizeExt(filepath.Ext(originalFilename))
	name := strings.TrimSuffix(filepath.Base(originalFilename), filepath.Ext(originalFilename))

	name = truncateRunes(sanitize(name), 50)
	user := truncateRunes(sanitize(owner), 20)

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	return fmt.Sprintf("%s_%s_%s_%s%s", name, user, ts, uid, ext)
}

// sanitize оставляет в строке только буквы (включая латиницу с диакритикой),
// цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}

// sanitizeExt нормализует расширение: нижний регистр, только буквы и цифры.
func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	var result strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return ""
	}
	return "." + truncateRunes(result.String(), 10)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}
