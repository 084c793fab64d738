package shared

// Core permission names grouped by category. These mirror the seeded
// vocabulary in migrations and the provisioning CLI.
const (
	PermMaterialsView   = "materials.view"
	PermMaterialsCreate = "materials.create"
	PermMaterialsEdit   = "materials.edit"
	PermMaterialsDelete = "materials.delete"
	PermMaterialsImport = "materials.import"
	PermMaterialsExport = "materials.export"

	PermLabView    = "lab.view"
	PermLabCreate  = "lab.create"
	PermLabEdit    = "lab.edit"
	PermLabApprove = "lab.approve"
	PermLabArchive = "lab.archive"

	PermQualityView    = "quality.view"
	PermQualityCreate  = "quality.create"
	PermQualityEdit    = "quality.edit"
	PermQualityApprove = "quality.approve"

	PermDocumentsView   = "documents.view"
	PermDocumentsUpload = "documents.upload"
	PermDocumentsDelete = "documents.delete"

	PermReportsView   = "reports.view"
	PermReportsCreate = "reports.create"
	PermReportsExport = "reports.export"

	PermAdminUsers       = "admin.users"
	PermAdminRoles       = "admin.roles"
	PermAdminPermissions = "admin.permissions"
	PermAdminSettings    = "admin.settings"
	PermAdminBackup      = "admin.backup"
	PermAdminLogs        = "admin.logs"

	PermSuppliersView   = "suppliers.view"
	PermSuppliersCreate = "suppliers.create"
	PermSuppliersEdit   = "suppliers.edit"
	PermSuppliersDelete = "suppliers.delete"
)

// System role names.
const (
	RoleAdmin         = "admin"
	RoleOTKMaster     = "otk_master"
	RoleLabTechnician = "lab_technician"
	RoleOperator      = "operator"
	RoleViewer        = "viewer"
)
