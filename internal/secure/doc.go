// Package secure keeps decrypted configuration material out of ordinary heap
// memory while it is in flight.
//
// Plaintext produced by decrypting an encrypted configuration fragment is
// moved into a memguard enclave (XSalsa20Poly1305 encrypted, mlocked where
// the platform allows) and only opened for the duration of the splice into
// the configuration tree:
//
//	buf, err := secure.NewSecureBuffer(plaintext)
//	if err != nil {
//	    return err
//	}
//	defer buf.Destroy()
//	err = buf.Use(func(b []byte) error {
//	    return parse(b)
//	})
//
// Call memguard.Purge() before process exit to wipe every enclave key.
package secure
