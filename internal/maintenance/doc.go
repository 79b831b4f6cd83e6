// Package maintenance exports the live store into an encrypted snapshot file
// and restores such a file into a fresh store that replaces the live one.
//
// Export: Collect -> snapshot.Encode -> crypto.SealEnvelope -> atomic write.
// Import: read -> crypto.OpenEnvelope -> snapshot.Decode -> Restore into a
// temporary file -> swap over the live store -> restart pending.
package maintenance
