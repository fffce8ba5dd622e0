package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword hashes an account password at the default cost before it is
// stored on the accounts row.
func HashPassword(s string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
}

func ComparePassword(hashed string, normal string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(normal))
}
