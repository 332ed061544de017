package mcpserver

// ManifestFormatContract describes the app manifest format that catalog
// sources (manifest directories and HTTP feeds) must publish.
const ManifestFormatContract = `# App Manifest Format Contract

Every app offered by a catalog source is described by one manifest. A
manifest directory holds ` + "`" + `.yaml` + "`" + `, ` + "`" + `.yml` + "`" + ` or ` + "`" + `.json` + "`" + ` files; each file
contains a single manifest mapping or a list of them. An HTTP feed returns a
JSON document whose record array sits at the configured path (default
` + "`" + `apps` + "`" + `).

## Fields

| Field         | Type            | Required | Notes |
|---------------|-----------------|----------|-------|
| bundle_id     | string          | yes      | Stable identity, e.g. ` + "`" + `com.acme.notes` + "`" + `. Letters, digits, ` + "`" + `.` + "`" + `, ` + "`" + `_` + "`" + `, ` + "`" + `-` + "`" + `. |
| version       | string / number | yes      | Compared as text; any difference counts as an update. |
| name          | string          | no       | Display name, at most 255 characters. |
| description   | string          | no       | |
| category      | string / number | for new apps | Must name an existing catalog category. |
| tags          | list of strings | no       | Trimmed and de-duplicated. |
| screenshots   | list of URLs    | no       | Absolute URLs. |
| price         | number          | no       | Non-negative. |
| vendor        | string          | no       | Used to pick the owning developer when the owner policy is ` + "`" + `vendor` + "`" + `. |
| file_size     | integer         | no       | Bytes, non-negative. |
| released_at   | timestamp       | no       | RFC 3339, ` + "`" + `YYYY-MM-DD HH:MM:SS` + "`" + `, ` + "`" + `YYYY-MM-DD` + "`" + ` or unix seconds. |
| scanned_at    | timestamp       | no       | Same formats as released_at. |

## Rules

1. **bundle_id is the identity.** Renaming an app keeps its bundle_id; a new
   bundle_id is a new app.
2. **Absent fields are left alone.** An update only writes the fields the
   manifest provides. To clear a list, publish an empty list.
3. **Duplicates:** when two manifests share a bundle_id, the first one wins.
4. **Removal:** an app missing from the source is flagged unsupported, never
   deleted. It is restored when it reappears.
5. **Encoding** is UTF-8.

## Example

` + "```" + `yaml
- bundle_id: com.acme.notes
  name: Acme Notes
  version: "2.4.1"
  category: productivity
  tags: [notes, writing]
  screenshots:
    - https://cdn.acme.example/notes/1.png
  price: 4.99
  vendor: Acme
  file_size: 18874368
  released_at: 2025-03-01
` + "```" + `
`
