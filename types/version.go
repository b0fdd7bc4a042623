package types

// Version is the srx-export release version.
const Version = "0.3.0"

// CatalogName is the record catalog the pipeline exports from.
const CatalogName = "srx"
