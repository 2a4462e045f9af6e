// credentialexport
//
// Emits materialized identities in the shapes AWS tooling consumes,
// either as credential_process JSON on stdout or into a shared
// credentials file section, and caches issued credentials in the OS
// secret store keyed by the identity chain fingerprint so repeated
// invocations can skip the STS round trips.
package credentialexport
