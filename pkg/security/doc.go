/*
Package security provides the two cryptographic primitives identity relies
on: bcrypt password hashing/verification, and HS256-signed JWT bearer
tokens with embedded subject, role, and token kind (access vs refresh).
*/
package security
