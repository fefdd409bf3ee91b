package sqlassets

import _ "embed"

//go:embed schema/platform/tenants.sql
var TenantsSQL string

//go:embed schema/platform/tenant_domains.sql
var TenantDomainsSQL string

//go:embed schema/tenant_space/commerce.sql
var CommerceSQL string
