// Package admintoken guards the admin HTTP surface with a bearer token.
//
// Only an Argon2id hash of the token is configured (BOUNCER_ADMIN_TOKEN_HASH);
// the plain token never touches disk. Hash strings use the PHC-like format
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// and are treated as untrusted input when verifying.
package admintoken
