// Package secondary reads foreign build descriptions referenced from
// FOREIGN_DIRS.
//
// A description is a CUE file. Its targets struct declares one build
// target per field and may refer to the variables handed over by the
// referencing build file through the vars struct:
//
//	vars: OS: string
//
//	targets: base: {
//		type:    "static_library"
//		sources: ["a.c", "b.c"]
//		if vars.OS == "WINNT" {
//			os_libs: ["ws2_32"]
//		}
//	}
//
// Each target becomes one secondary Context whose output directory is the
// target name below the requested output directory.
package secondary
