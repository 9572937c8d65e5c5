package schema

import "github.com/roach88/restcore/internal/ir"

var systemClasses = map[string]*Class{
	ir.ClassUser: NewClass(ir.ClassUser, map[string]Field{
		"username":      {Type: TypeString},
		"password":      {Type: TypeString},
		"email":         {Type: TypeString},
		"emailVerified": {Type: TypeBoolean},
		"authData":      {Type: TypeObject},
	}, "username", "email"),
	ir.ClassSession: NewClass(ir.ClassSession, map[string]Field{
		"user":           {Type: TypePointer, TargetClass: ir.ClassUser},
		"installationId": {Type: TypeString},
		"sessionToken":   {Type: TypeString},
		"expiresAt":      {Type: TypeDate},
		"createdWith":    {Type: TypeObject},
		"restricted":     {Type: TypeBoolean},
	}, "sessionToken"),
	ir.ClassInstallation: NewClass(ir.ClassInstallation, map[string]Field{
		"installationId":   {Type: TypeString},
		"deviceToken":      {Type: TypeString},
		"channels":         {Type: TypeArray},
		"deviceType":       {Type: TypeString},
		"pushType":         {Type: TypeString},
		"GCMSenderId":      {Type: TypeString},
		"timeZone":         {Type: TypeString},
		"localeIdentifier": {Type: TypeString},
		"badge":            {Type: TypeNumber},
		"appVersion":       {Type: TypeString},
		"appName":          {Type: TypeString},
		"appIdentifier":    {Type: TypeString},
		"parseVersion":     {Type: TypeString},
	}),
	ir.ClassRole: NewClass(ir.ClassRole, map[string]Field{
		"name":  {Type: TypeString},
		"users": {Type: TypeArray},
		"roles": {Type: TypeArray},
	}, "name"),
}

// SystemClasses returns fresh copies of the built-in classes.
func SystemClasses() []*Class {
	out := make([]*Class, 0, len(systemClasses))
	for _, name := range []string{ir.ClassInstallation, ir.ClassRole, ir.ClassSession, ir.ClassUser} {
		out = append(out, systemClasses[name].Clone())
	}
	return out
}
