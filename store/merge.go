package store

// Merge applies patch onto dst and returns the result; neither input is
// modified. For each field of patch: when both sides hold documents the
// merge recurses, otherwise the patch value replaces the existing one.
// Sequences are replaced wholesale. Fields only present in dst are kept.
func Merge(dst, patch Document) Document {
	out := dst.Clone()
	if out == nil {
		out = make(Document, len(patch))
	}
	for k, pv := range patch {
		if pd, ok := pv.Document(); ok {
			if cur, ok := out[k].Document(); ok {
				out[k] = DocumentValue(Merge(cur, pd))
				continue
			}
		}
		out[k] = pv.Clone()
	}
	return out
}
