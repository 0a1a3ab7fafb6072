package sshkeys

import (
	"fmt"
	"os"
)

// SaveKeyPair writes kp to path (mode 0600) and path.pub (mode 0644). Existing
// files are not overwritten.
func SaveKeyPair(path string, kp *KeyPair) error {
	if err := writeNew(path, kp.PrivateKey, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	pub := append(append([]byte{}, kp.PublicKey...), '\n')
	if err := writeNew(path+".pub", pub, 0644); err != nil {
		os.Remove(path)
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

func writeNew(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
