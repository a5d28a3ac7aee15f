package model

// Release is the subset of the GitHub release payload that relsync uses.
type Release struct {
	ID      int64   `json:"id"`
	TagName string  `json:"tag_name"`
	Assets  []Asset `json:"assets"`
}

// Asset is the subset of the GitHub release asset payload that relsync uses.
type Asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// FindAsset returns the asset named name, or nil.
func (r *Release) FindAsset(name string) *Asset {
	for i := range r.Assets {
		if r.Assets[i].Name == name {
			return &r.Assets[i]
		}
	}
	return nil
}

// Output is a named byte buffer produced by a transform, ready for upload.
type Output struct {
	Name string
	Data []byte
}

// OutputNames lists the names of outs in order.
func OutputNames(outs []Output) []string {
	names := make([]string, len(outs))
	for i, o := range outs {
		names[i] = o.Name
	}
	return names
}
