package tasks

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// newProjectID returns a public project id such as "proj-48213-5521".
func newProjectID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(90000*9000))
	if err != nil {
		return "", fmt.Errorf("project id: %w", err)
	}
	v := n.Int64()
	return fmt.Sprintf("proj-%05d-%04d", 10000+v/9000, 1000+v%9000), nil
}
