// Package resolver implements the canonical-file-preferred merge of the
// credential file and its keychain mirror into a single active credential.
package resolver

import (
	"context"
	"errors"
	"os"

	"github.com/agent-island/cauth/internal/cauth/credcodec"
)

// ErrNoActiveCredential is returned when neither the file nor the keychain
// source yields a usable or even raw credential blob.
var ErrNoActiveCredential = errors.New("current credentials not found in file or keychain")

// status classifies a single source.
type status int

const (
	statusMissing status = iota
	statusUnusable
	statusUsable
)

// KeychainReader reads the mirrored credential value; it is satisfied by
// *keychain.Mirror.
type KeychainReader interface {
	Read(ctx context.Context) (string, error)
}

// Resolver merges the canonical credential file with its keychain mirror.
type Resolver struct {
	FilePath string
	Mirror   KeychainReader
}

// New returns a Resolver for the given canonical file path and mirror.
func New(filePath string, mirror KeychainReader) *Resolver {
	return &Resolver{FilePath: filePath, Mirror: mirror}
}

func classify(data []byte) (status, *credcodec.Credential) {
	if len(data) == 0 {
		return statusMissing, nil
	}
	cred, err := credcodec.Parse(data)
	if err != nil {
		return statusUnusable, nil
	}
	if cred.AccessToken() == "" {
		return statusUnusable, cred
	}
	return statusUsable, cred
}

// Resolve reads both sources and returns the merged active credential bytes
// per the canonical-file-preferred policy:
//
//  1. if the file is Usable: the file's token material and metadata, with
//     keychain metadata filling any top-level or claudeAiOauth gaps;
//  2. else if the keychain mirror is Usable: the mirror's token material,
//     with file metadata filling gaps;
//  3. else: whichever raw blob is present, else ErrNoActiveCredential.
func (r *Resolver) Resolve(ctx context.Context) ([]byte, error) {
	fileData, _ := os.ReadFile(r.FilePath)

	var keychainData []byte
	if r.Mirror != nil {
		if value, err := r.Mirror.Read(ctx); err == nil {
			keychainData = []byte(value)
		}
	}

	fileStatus, fileCred := classify(fileData)
	keychainStatus, keychainCred := classify(keychainData)

	switch {
	case fileStatus == statusUsable:
		mergeMetadataGaps(fileCred, keychainCred)
		return fileCred.Bytes()

	case keychainStatus == statusUsable:
		mergeMetadataGaps(keychainCred, fileCred)
		return keychainCred.Bytes()

	case len(fileData) > 0:
		return fileData, nil

	case len(keychainData) > 0:
		return keychainData, nil

	default:
		return nil, ErrNoActiveCredential
	}
}

// mergeMetadataGaps copies top-level and claudeAiOauth-nested keys present
// in other but absent in primary, without touching any key primary already
// has (so primary's token material always wins).
func mergeMetadataGaps(primary, other *credcodec.Credential) {
	if primary == nil || other == nil {
		return
	}
	primaryRaw := primary.Raw()
	otherRaw := other.Raw()

	for k, v := range otherRaw {
		if k == "claudeAiOauth" {
			continue
		}
		if _, exists := primaryRaw[k]; !exists {
			primaryRaw[k] = v
		}
	}

	otherOauth, ok := otherRaw["claudeAiOauth"].(map[string]interface{})
	if !ok {
		return
	}
	primaryOauth, ok := primaryRaw["claudeAiOauth"].(map[string]interface{})
	if !ok {
		primaryOauth = map[string]interface{}{}
		primaryRaw["claudeAiOauth"] = primaryOauth
	}
	for k, v := range otherOauth {
		if _, exists := primaryOauth[k]; !exists {
			primaryOauth[k] = v
		}
	}
}
