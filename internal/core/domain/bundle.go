package domain

import "io"

// MetadataFile is the name of the record stored next to a bundle's files.
const MetadataFile = "metadata.json"

// BuildFile is the file a bundle must carry to be started.
const BuildFile = "Dockerfile"

// Metadata is the persisted description of an uploaded bundle.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Files       []string `json:"files"`
}

// Bundle is one uploaded microservice as returned by listings.
type Bundle struct {
	Metadata
	Folder string `json:"folder"`
}

// UploadFile is a single file of an upload, in the order it was received.
type UploadFile struct {
	Name    string
	Content io.Reader
}
