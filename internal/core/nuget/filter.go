package nuget

import (
	"strings"

	"github.com/pkgsentry/pkgsentry/internal/core"
)

// DefaultSkipPatterns drops runtime packs, SDK tooling and platform-specific
// builds. Matching is a case-insensitive substring test on the package id.
var DefaultSkipPatterns = []string{
	"Microsoft.AspNetCore.App.Runtime",
	"Microsoft.NETCore.App.Runtime",
	"Microsoft.NETCore.Runtime",
	"Microsoft.Build.Runtime",
	"Microsoft.NET.Runtime",
	"Microsoft.WindowsDesktop.App.Runtime",
	"nanoFramework.",
	"runtime.",
	"-cuda-",
	".Emscripten.",
	".Owin.",
	"Microsoft.Toolkit",
	"Silk.NET",
	"Microsoft.NET.Sdk",
	"Microsoft.NET.Tools.NETCoreCheck",
	"Microsoft.Net.ToolsetCompilers",
	".mono.",
	"Microsoft.NETCore.App.Crossgen",
	"Microsoft.NETCore.App.Host",
	"Microsoft.NETFramework.ReferenceAssemblies",
	"Microsoft.NETCore.DotNetAppHost",
	"Microsoft.NETCore.DotNetHost",
}

// DefaultSearchTerms is the curated list used when none are configured.
var DefaultSearchTerms = []string{
	"owner:dotnetfoundation",
	"owner:domaindrivendev id:Swashbuckle.AspNetCore",
	"owner:aspnet",
	"owner:oracle",
	"owner:serilog",
	"owner:nloglogging",
	"owner:azure-sdk",
	"owner:fluentassertions",
	"owner:jskinner id:fluentvalidation",
	"owner:jbogard id:mediatr id:automapper",
	"owner:dapper",
	"owner:mudblazor",
	"owner:orleans",
	"owner:confluent",
	"owner:team-rabbitmq",
	"owner:azuread",
	"owner:identity",
	"owner:dotnetframework",
	"owner:polly",
	"owner:RoslynTeam",
	"owner:fody",
	"owner:OpenTelemetry",
	"owner:odata",
	"owner:protobuf-packages",
	"owner:castleproject",
	"owner:AppInsightsSdk",
	"owner:grpc-packages",
	"owner:vstest",
	"owner:rsuter id:njson id:nswag id:nconsole",
	"owner:stephencleary id:nito",
	"owner:SQLitePCLRaw",
	"owner:selenium",
	"owner:Quartz.NET",
	"owner:OpenTracing",
	"packageid:Consul",
	"packageid:FastExpressionCompiler",
	"packageid:SharpZipLib",
	"packageid:Spectre.Console",
	"packageid:Spectre.Console.Cli",
	"packageid:Stateless",
	"packageid:BouncyCastle.Cryptography",
	"packageid:NUnit",
	"packageid:NUnit3TestAdapter",
	"packageid:Moq",
	"packageid:Bogus",
	"packageid:HtmlAgilityPack",
	"packageid:JetBrains.Annotations",
	"packageid:RestSharp",
	"packageid:NSubstitute",
	"packageid:FakeItEasy",
	"packageid:Jint",
}

const internalOnlyMarker = "do not reference directly"

// platformPrefixes mark packages versioned in lockstep with .NET itself.
var platformPrefixes = []string{"dotnet", "microsoft", "system", "runtime"}

// platformMajors are the .NET majors kept for platform packages, newest first.
var platformMajors = []int{8, 7, 6}

// FilterHits removes hits whose id contains any skip pattern and hits whose
// description marks them as internal implementation packages.
func FilterHits(hits []core.SearchHit, patterns []string) []core.SearchHit {
	lowered := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if pattern = strings.ToLower(strings.TrimSpace(pattern)); pattern != "" {
			lowered = append(lowered, pattern)
		}
	}

	kept := make([]core.SearchHit, 0, len(hits))
	for _, hit := range hits {
		id := strings.ToLower(hit.ID)
		if matchesAny(id, lowered) {
			continue
		}
		if strings.Contains(strings.ToLower(hit.Description), internalOnlyMarker) {
			continue
		}
		kept = append(kept, hit)
	}
	return kept
}

// Dedupe keeps the first hit for every id, compared case-insensitively.
func Dedupe(hits []core.SearchHit) []core.SearchHit {
	seen := make(map[string]struct{}, len(hits))
	out := make([]core.SearchHit, 0, len(hits))
	for _, hit := range hits {
		key := strings.ToLower(hit.ID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, hit)
	}
	return out
}

// SelectVersions picks the releases to keep from a list ordered by descending
// version.
//
// Platform packages (ids starting with dotnet, microsoft, system or runtime)
// that ship 8.x, 7.x and 6.x lines keep the newest stable release of each
// line, falling back to the newest pre-release of that line. Every other
// package keeps its newest stable release, or its newest release of any kind.
func SelectVersions(id string, releases []Release) []Release {
	if len(releases) == 0 {
		return nil
	}

	if isPlatformPackage(id) && hasMajors(releases, platformMajors) {
		selected := make([]Release, 0, len(platformMajors))
		for _, major := range platformMajors {
			selected = append(selected, newestOfMajor(releases, major))
		}
		return selected
	}

	for _, release := range releases {
		if !release.Version.IsPrerelease() {
			return []Release{release}
		}
	}
	return []Release{releases[0]}
}

func isPlatformPackage(id string) bool {
	lowered := strings.ToLower(id)
	for _, prefix := range platformPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}
	return false
}

func hasMajors(releases []Release, majors []int) bool {
	for _, major := range majors {
		found := false
		for _, release := range releases {
			if release.Version.Major == major {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func newestOfMajor(releases []Release, major int) Release {
	var fallback *Release
	for i := range releases {
		if releases[i].Version.Major != major {
			continue
		}
		if !releases[i].Version.IsPrerelease() {
			return releases[i]
		}
		if fallback == nil {
			fallback = &releases[i]
		}
	}
	return *fallback
}

func matchesAny(value string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}
	return false
}
