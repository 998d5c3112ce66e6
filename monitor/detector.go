package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
)

// encodeFields is swapped in tests to exercise serialization failures.
var encodeFields = json.Marshal

// Fingerprint returns a digest of the snapshot record. encoding/json
// writes map keys in sorted order, so the digest does not depend on the
// order fields were populated in. Extra is not part of the record.
func Fingerprint(snap DeviceSnapshot) (string, error) {
	data, err := encodeFields(snap.fields())
	if err != nil {
		return "", &SerializationError{Device: snap.Name, Err: err}
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ChangedDevices returns the names of devices in newer whose content
// differs from old, or that old does not know about, sorted by name.
//
// Only newer is scanned: a device that exists in old but not in newer is
// not reported. A device that cannot be serialized is left out of the
// result and its error is joined into the returned error; the rest of
// the table is still compared.
func ChangedDevices(old, newer StateTable) ([]string, error) {
	var changed []string
	var errs []error

	for name, snap := range newer {
		newPrint, err := Fingerprint(snap)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		prev, ok := old[name]
		if !ok {
			changed = append(changed, name)
			continue
		}

		oldPrint, err := Fingerprint(prev)
		if err != nil {
			// 比較できないので変化とはみなさない
			errs = append(errs, err)
			continue
		}
		if oldPrint != newPrint {
			changed = append(changed, name)
		}
	}

	sort.Strings(changed)
	return changed, errors.Join(errs...)
}

// Detect reports whether any device in newer changed relative to old.
// See ChangedDevices for the comparison rules.
func Detect(old, newer StateTable) (bool, error) {
	changed, err := ChangedDevices(old, newer)
	return len(changed) > 0, err
}
