package onepipe

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"unicode/utf16"

	dErrors "kore/pkg/domain-errors"
)

// Sign computes the transact request signature: the lowercase hex MD5
// digest of the UTF-8 bytes of "requestRef;clientSecret". The hash is
// provider-mandated and weak; it authenticates nothing internal and
// must never be substituted for internal auth.
func Sign(requestRef, clientSecret string) string {
	sum := md5.Sum([]byte(requestRef + ";" + clientSecret))
	return hex.EncodeToString(sum[:])
}

// EncodeSecureField encrypts a sensitive payload field the way the
// provider decrypts it: Triple DES in CBC mode with a fixed 8-byte
// zero IV, PKCS#7 padding, base64 output with no IV prefix. The fixed
// IV makes the function deterministic; identical inputs always yield
// identical ciphertext.
func EncodeSecureField(plaintext, clientSecret string) (string, error) {
	if clientSecret == "" {
		return "", dErrors.New(dErrors.CodeValidation, "client secret is required to encode secure fields")
	}
	if plaintext == "" {
		return "", dErrors.New(dErrors.CodeValidation, "secure field plaintext is empty")
	}
	block, err := des.NewTripleDESCipher(deriveKey(clientSecret))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to initialize cipher")
	}
	padded := padPKCS7([]byte(plaintext), des.BlockSize)
	out := make([]byte, len(padded))
	iv := make([]byte, des.BlockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// deriveKey builds the 24-byte 3DES key from the client secret: MD5
// over the secret's UTF-16LE bytes, extended with the first 8 digest
// bytes. This is the provider's reference key schedule; the ciphertext
// is undecryptable on their side under any other derivation.
func deriveKey(clientSecret string) []byte {
	sum := md5.Sum(utf16le(clientSecret))
	key := make([]byte, 0, 24)
	key = append(key, sum[:]...)
	return append(key, sum[:8]...)
}

func utf16le(s string) []byte {
	codes := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(codes)*2)
	for _, c := range codes {
		out = append(out, byte(c), byte(c>>8))
	}
	return out
}

func padPKCS7(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	padded := make([]byte, len(b), len(b)+n)
	copy(padded, b)
	for i := 0; i < n; i++ {
		padded = append(padded, byte(n))
	}
	return padded
}
