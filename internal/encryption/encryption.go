// Package encryption protects export files at rest with OpenPGP symmetric
// (passphrase) encryption. Output is binary, not ASCII armored, and can be
// opened with `gpg --decrypt`.
package encryption

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"

	"db-backup/internal/errors"
	"db-backup/internal/logging"
)

// EncryptedSuffix is appended to encrypted file names
const EncryptedSuffix = ".gpg"

// CipherAlgorithm names a symmetric cipher for the encrypted data packet
type CipherAlgorithm string

const (
	CipherAES256 CipherAlgorithm = "AES256"
	CipherAES192 CipherAlgorithm = "AES192"
	CipherAES128 CipherAlgorithm = "AES128"
	CipherCAST5  CipherAlgorithm = "CAST5"
	Cipher3DES   CipherAlgorithm = "3DES"

	DefaultCipher = CipherAES256
)

var cipherFunctions = map[CipherAlgorithm]packet.CipherFunction{
	CipherAES256: packet.CipherAES256,
	CipherAES192: packet.CipherAES192,
	CipherAES128: packet.CipherAES128,
	CipherCAST5:  packet.CipherCAST5,
	Cipher3DES:   packet.Cipher3DES,
}

// SupportedCiphers lists the accepted cipher names, strongest first
func SupportedCiphers() []CipherAlgorithm {
	return []CipherAlgorithm{CipherAES256, CipherAES192, CipherAES128, CipherCAST5, Cipher3DES}
}

// ParseCipher maps a case-insensitive name to a CipherAlgorithm
func ParseCipher(name string) (CipherAlgorithm, error) {
	c := CipherAlgorithm(strings.ToUpper(strings.TrimSpace(name)))
	if c == "" {
		return DefaultCipher, nil
	}
	if _, ok := cipherFunctions[c]; !ok {
		names := make([]string, 0, len(cipherFunctions))
		for _, s := range SupportedCiphers() {
			names = append(names, string(s))
		}
		return "", fmt.Errorf("unsupported cipher %q (supported: %s)", name, strings.Join(names, ", "))
	}
	return c, nil
}

// errPassphraseRejected is returned by the prompt once the supplied
// passphrase has been tried and did not open the session key.
var errPassphraseRejected = stderrors.New("passphrase rejected")

// Encryptor encrypts and decrypts files with a passphrase
type Encryptor struct {
	logger *logging.Logger
}

// NewEncryptor creates an encryptor that logs through logger
func NewEncryptor(logger *logging.Logger) *Encryptor {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Encryptor{logger: logger}
}

// Encrypt writes an encrypted copy of inputPath and returns its path. An empty
// outputPath means inputPath + ".gpg". The input file is never modified and a
// failed run leaves no output behind.
func (e *Encryptor) Encrypt(inputPath, passphrase string, cipher CipherAlgorithm, outputPath string) (string, error) {
	info, err := os.Stat(inputPath)
	if err != nil || info.IsDir() {
		return "", errors.NewInputNotFoundError(inputPath)
	}
	if passphrase == "" {
		return "", errors.NewEncryptionError("passphrase is required", nil)
	}
	if cipher == "" {
		cipher = DefaultCipher
	}
	cipherFunc, ok := cipherFunctions[cipher]
	if !ok {
		return "", errors.NewEncryptionError(fmt.Sprintf("unsupported cipher %q", cipher), nil).
			WithContext("cipher", string(cipher))
	}
	if outputPath == "" {
		outputPath = inputPath + EncryptedSuffix
	}
	if samePath(inputPath, outputPath) {
		return "", errors.NewEncryptionError("output path must differ from the input path", nil).
			WithContext("path", inputPath)
	}

	e.logger.WithFields(map[string]interface{}{
		"input":  inputPath,
		"output": outputPath,
		"cipher": string(cipher),
	}).Info("Encrypting file")

	startTime := time.Now()
	if err := encryptFile(inputPath, outputPath, []byte(passphrase), info, cipherFunc); err != nil {
		return "", err
	}

	encrypted, err := os.Stat(outputPath)
	if err != nil {
		return "", errors.NewEncryptionError("encrypted file missing after write", err)
	}

	e.logger.WithFields(map[string]interface{}{
		"original_bytes":  info.Size(),
		"encrypted_bytes": encrypted.Size(),
		"duration":        time.Since(startTime).String(),
	}).Info("Encryption completed")

	return outputPath, nil
}

func encryptFile(inputPath, outputPath string, passphrase []byte, info os.FileInfo, cipherFunc packet.CipherFunction) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return errors.NewInputNotFoundError(inputPath)
	}
	defer in.Close()

	hints := &openpgp.FileHints{
		IsBinary: true,
		FileName: filepath.Base(inputPath),
		ModTime:  info.ModTime(),
	}
	config := &packet.Config{DefaultCipher: cipherFunc}

	return writeReplacing(outputPath, errors.NewEncryptionError, func(out io.Writer) error {
		plaintext, err := openpgp.SymmetricallyEncrypt(out, passphrase, hints, config)
		if err != nil {
			return errors.NewEncryptionError("failed to start encryption", err)
		}
		if _, err := io.Copy(plaintext, in); err != nil {
			plaintext.Close()
			return errors.NewEncryptionError("failed to encrypt file contents", err)
		}
		if err := plaintext.Close(); err != nil {
			return errors.NewEncryptionError("failed to finalize encrypted message", err)
		}
		return nil
	})
}

// writeReplacing writes through a temporary file next to path and renames it
// over path only when write succeeds. On failure only the temporary file is
// removed; an existing file at path is left untouched.
func writeReplacing(path string, wrap func(string, error) *errors.AppError, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return wrap("failed to create output directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return wrap("failed to create output file", err)
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return wrap("failed to close output file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return wrap("failed to move output file into place", err)
	}
	return nil
}

// samePath reports whether a and b name the same file
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}

// DefaultDecryptedPath strips ".gpg" or, failing that, appends ".decrypted"
func DefaultDecryptedPath(inputPath string) string {
	if strings.HasSuffix(inputPath, EncryptedSuffix) {
		return strings.TrimSuffix(inputPath, EncryptedSuffix)
	}
	return inputPath + ".decrypted"
}

// Decrypt reverses Encrypt. A wrong passphrase yields a wrong_passphrase
// error; a corrupted or tampered file yields a decryption error. Either way
// outputPath is not touched: plaintext is written to a temporary file and
// only renamed into place once the integrity check has passed.
func (e *Encryptor) Decrypt(inputPath, passphrase, outputPath string) (string, error) {
	info, err := os.Stat(inputPath)
	if err != nil || info.IsDir() {
		return "", errors.NewInputNotFoundError(inputPath)
	}
	if outputPath == "" {
		outputPath = DefaultDecryptedPath(inputPath)
	}
	if samePath(inputPath, outputPath) {
		return "", errors.NewDecryptionError("output path must differ from the input path", nil).
			WithContext("path", inputPath)
	}

	e.logger.WithFields(map[string]interface{}{
		"input":  inputPath,
		"output": outputPath,
	}).Info("Decrypting file")

	written, err := decryptFile(inputPath, outputPath, []byte(passphrase))
	if err != nil {
		return "", err
	}

	e.logger.WithField("decrypted_bytes", written).Info("Decryption completed")
	return outputPath, nil
}

func decryptFile(inputPath, outputPath string, passphrase []byte) (int64, error) {
	in, err := os.Open(inputPath)
	if err != nil {
		return 0, errors.NewInputNotFoundError(inputPath)
	}
	defer in.Close()

	tried := false
	prompt := func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		if tried || !symmetric {
			return nil, errPassphraseRejected
		}
		tried = true
		return passphrase, nil
	}

	md, err := openpgp.ReadMessage(in, openpgp.EntityList{}, prompt, nil)
	if err != nil {
		if stderrors.Is(err, errPassphraseRejected) {
			return 0, errors.NewWrongPassphraseError(err)
		}
		return 0, errors.NewDecryptionError("failed to read encrypted message", err)
	}
	if !md.IsSymmetricallyEncrypted {
		return 0, errors.NewDecryptionError("input is not a passphrase-encrypted OpenPGP message", nil)
	}

	var written int64
	err = writeReplacing(outputPath, errors.NewDecryptionError, func(out io.Writer) error {
		// The integrity check runs when the body reaches EOF, after some
		// plaintext has already gone to the temporary file.
		n, err := io.Copy(out, md.UnverifiedBody)
		if err != nil {
			return errors.NewDecryptionError("integrity check failed or data is corrupt", err)
		}
		written = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}
